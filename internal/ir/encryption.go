package ir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VerificationLevel is the coarse trust assessment of an event's sender device.
type VerificationLevel string

const (
	VerificationVerified     VerificationLevel = "verified"
	VerificationUnverified   VerificationLevel = "unverified"
	VerificationUnknown      VerificationLevel = "unknown"
	VerificationUnverifiable VerificationLevel = "unverifiable"
)

// Reasons an event is Unverified.
const (
	UnverifiedIdentity   = "unverified_identity"
	UnsignedDevice       = "unsigned_device"
	UnknownDevice        = "unknown_device"
	PreviouslyVerified   = "previously_verified"
	InsecureMegolmSource = "insecure_source"
)

// VerificationState is Verified | Unverified(reason) | Unknown | Unverifiable.
type VerificationState struct {
	Level  VerificationLevel `json:"level"`
	Reason string            `json:"reason,omitempty"`
}

// Verified returns the Verified state.
func Verified() VerificationState {
	return VerificationState{Level: VerificationVerified}
}

// Unverified returns the Unverified state with the given reason.
func Unverified(reason string) VerificationState {
	return VerificationState{Level: VerificationUnverified, Reason: reason}
}

// String renders the state as "level" or "level(reason)".
func (s VerificationState) String() string {
	if s.Reason == "" {
		return string(s.Level)
	}
	return fmt.Sprintf("%s(%s)", s.Level, s.Reason)
}

// AlgorithmInfo is the algorithm metadata of a decrypted event.
type AlgorithmInfo struct {
	Name              string            `json:"algorithm"`
	Curve25519Key     string            `json:"curve25519_key,omitempty"`
	SenderClaimedKeys map[string]string `json:"sender_claimed_keys,omitempty"`
}

// EncryptionInfo is attached per decrypted event.
// A later decryption for the same event id replaces it wholesale.
type EncryptionInfo struct {
	Sender       UserID            `json:"sender"`
	SenderDevice string            `json:"sender_device,omitempty"`
	Algorithm    AlgorithmInfo     `json:"algorithm_info"`
	Verification VerificationState `json:"verification_state"`
}

// EncryptedEnvelope is the clear part of an m.room.encrypted event.
type EncryptedEnvelope struct {
	Algorithm  string `json:"algorithm"`
	SenderKey  string `json:"sender_key,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	SessionID  string `json:"session_id"`
	Ciphertext string `json:"ciphertext"`
}

// DecryptedEvent is a successful decryption result.
type DecryptedEvent struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	Encryption EncryptionInfo  `json:"encryption"`
}

// DecryptionFailureCode classifies why decryption failed.
type DecryptionFailureCode string

const (
	FailureUnknownSession       DecryptionFailureCode = "unknown_session"
	FailureUnsupportedAlgorithm DecryptionFailureCode = "unsupported_algorithm"
	FailureSenderMismatch       DecryptionFailureCode = "sender_mismatch"
)

// DecryptionFailure is a typed decryption failure.
type DecryptionFailure struct {
	Code    DecryptionFailureCode `json:"code"`
	Message string                `json:"message,omitempty"`
}

// Error implements the error interface.
func (f *DecryptionFailure) Error() string {
	if f.Message == "" {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// AsDecryptionFailure extracts a DecryptionFailure from err.
// Errors of any other type become an unknown_session failure carrying the message.
func AsDecryptionFailure(err error) *DecryptionFailure {
	var f *DecryptionFailure
	if errors.As(err, &f) {
		return f
	}
	return &DecryptionFailure{Code: FailureUnknownSession, Message: err.Error()}
}

// DecryptionResult is Result<DecryptedEvent, DecryptionFailure>.
// Exactly one of Event and Failure is set.
type DecryptionResult struct {
	Event   *DecryptedEvent    `json:"event,omitempty"`
	Failure *DecryptionFailure `json:"failure,omitempty"`
}

// Decrypted wraps a successful decryption.
func Decrypted(ev DecryptedEvent) DecryptionResult {
	return DecryptionResult{Event: &ev}
}

// Failed wraps a decryption failure.
func Failed(code DecryptionFailureCode, message string) DecryptionResult {
	return DecryptionResult{Failure: &DecryptionFailure{Code: code, Message: message}}
}

// Validate checks that exactly one branch of the result is set.
func (r DecryptionResult) Validate() error {
	if (r.Event == nil) == (r.Failure == nil) {
		return errors.New("decryption result must carry exactly one of event or failure")
	}
	return nil
}
