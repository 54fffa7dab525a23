package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Validation error codes (E120-E139)
const (
	// Document errors (E120-E121)
	ErrScenarioParse   = "E120" // file is not valid YAML
	ErrSchemaViolation = "E121" // document does not satisfy the scenario schema

	// Step errors (E122-E125)
	ErrMissingStepArgument     = "E122" // step lacks an argument its kind needs
	ErrInvalidDecryptionResult = "E123" // result must carry exactly one of event or failure
	ErrUnknownSession          = "E124" // import_key names a session with no key
	ErrInvalidTimezone         = "E125" // timezone is not an IANA zone

	// Assertion errors (E130-E139)
	ErrMissingAssertionArgument = "E130" // assertion lacks an argument its type needs
)

// ValidationError represents a scenario validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// compileErrorOf extracts position info from a CUE error.
func compileErrorOf(e errors.Error) *CompileError {
	format, args := e.Msg()
	ce := &CompileError{
		Field:   fieldOf(e.Path()),
		Message: fmt.Sprintf(format, args...),
	}
	if positions := errors.Positions(e); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

// fieldOf renders a CUE error path without the schema definition it
// was reported against.
func fieldOf(path []string) string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return "scenario"
	}
	return strings.Join(path, ".")
}

// validationErrors flattens a CUE error into one ValidationError per
// underlying error.
func validationErrors(err error, code string) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ce := compileErrorOf(e)
		ve := ValidationError{Field: ce.Field, Message: ce.Message, Code: code}
		if ce.Pos.IsValid() {
			ve.Line = ce.Pos.Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "scenario", Message: err.Error(), Code: code})
	}
	return out
}
