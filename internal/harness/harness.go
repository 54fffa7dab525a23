package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/roomline/internal/ir"
	"github.com/roach88/roomline/internal/store"
	"github.com/roach88/roomline/internal/testutil"
	"github.com/roach88/roomline/internal/timeline"
)

// DefaultRoom is the room of scenarios that do not name one.
const DefaultRoom = "!scenario:localhost"

// DefaultSubscriberBuffer is the subscription bound of scenarios that do
// not set one.
const DefaultSubscriberBuffer = 1024

// Harness is the test execution engine.
// It runs one scenario against a real timeline journaled to an
// in-memory store, with a manual clock and sequential transaction ids.
type Harness struct {
	scenario *Scenario
	loc      *time.Location
	store    *store.Store
	timeline *timeline.Timeline
	keys     *keyring
	all      *mirror
	events   *mirror
	logger   zerolog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes timeline logs to l. Runs are silent by default.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory journal and timeline
// 2. Subscribe to both streams
// 3. Execute steps, draining and checking each stream after every step
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	loc := time.UTC
	if scenario.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(scenario.Timezone); err != nil {
			return nil, fmt.Errorf("invalid scenario timezone: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		loc:      loc,
		store:    st,
		keys:     newKeyring(scenario.Keys),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	now := testutil.Day0
	if scenario.Now != 0 {
		now = time.UnixMilli(scenario.Now).UTC()
	}
	clock := testutil.NewManualClock(now)

	h.timeline = timeline.New(h.roomID(),
		timeline.WithLocation(loc),
		timeline.WithHiddenReadMarker(scenario.HideReadMarker),
		timeline.WithSubscriberBuffer(h.buffer()),
		timeline.WithDecryptor(h.keys),
		timeline.WithJournal(st, 0),
		timeline.WithTxnGenerator(testutil.NewSequentialTxnGenerator("txn")),
		timeline.WithNow(clock.Now),
		timeline.WithLogger(h.logger),
	)
	defer h.timeline.Close()

	if h.all, err = subscribe(h.timeline.Subscribe); err != nil {
		return nil, err
	}
	if h.events, err = subscribe(h.timeline.SubscribeEvents); err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		trace := StepTrace{Step: i, Do: step.Do}
		stepErr := h.execute(ctx, step)
		if stepErr != nil {
			trace.Error = stepErr.Error()
		}

		if trace.All, err = h.all.drain(); err != nil {
			return nil, fmt.Errorf("steps[%d]: full stream diverged: %w", i, err)
		}
		if trace.Events, err = h.events.drain(); err != nil {
			return nil, fmt.Errorf("steps[%d]: event stream diverged: %w", i, err)
		}
		result.AddStep(trace)

		h.checkMirrors(i, result)
		checkExpect(i, step, trace, stepErr, result)
	}

	result.Layout = labels(h.all.items)

	actx := &AssertionContext{
		Ctx:      ctx,
		Timeline: h.timeline,
		Store:    st,
		Mirrors:  map[string][]ir.TimelineItem{"all": h.all.items, "events": h.events.items},
		Replay: []timeline.Option{
			timeline.WithLocation(loc),
			timeline.WithHiddenReadMarker(scenario.HideReadMarker),
			timeline.WithLogger(h.logger),
		},
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) roomID() ir.RoomID {
	if h.scenario.Room != "" {
		return ir.RoomID(h.scenario.Room)
	}
	return DefaultRoom
}

func (h *Harness) buffer() int {
	if h.scenario.SubscriberBuffer > 0 {
		return h.scenario.SubscriberBuffer
	}
	return DefaultSubscriberBuffer
}

// execute runs one step.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Do {
	case StepImportKey:
		h.keys.release(step.Session)
		return nil

	case StepRetryDecryption:
		ids := make([]ir.EventID, len(step.EventIDs))
		for i, id := range step.EventIDs {
			ids[i] = ir.EventID(id)
		}
		_, err := h.timeline.RetryDecryption(ctx, ids...)
		return err

	default:
		cmd, err := step.command()
		if err != nil {
			return err
		}
		return h.timeline.Apply(ctx, cmd)
	}
}

// command converts a step into the ingestion command it names. Events
// and decryption results pass through their JSON wire form.
func (s Step) command() (ir.Command, error) {
	doc := map[string]any{"kind": s.Do}
	if s.Event != nil {
		doc["event"] = s.Event
	}
	if s.EventID != "" {
		doc["event_id"] = s.EventID
	}
	if s.TxnID != "" {
		doc["txn_id"] = s.TxnID
	}
	if s.User != "" {
		doc["user"] = s.User
	}
	if s.Reason != "" {
		doc["reason"] = s.Reason
	}
	if s.Timestamp != 0 {
		doc["ts"] = s.Timestamp
	}
	if s.Result != nil {
		doc["result"] = s.Result
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return ir.Command{}, fmt.Errorf("encode %s step: %w", s.Do, err)
	}
	var cmd ir.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ir.Command{}, fmt.Errorf("decode %s step: %w", s.Do, err)
	}
	return cmd, nil
}

// checkMirrors verifies that replaying every published batch reproduces
// the timeline's current items on both streams.
func (h *Harness) checkMirrors(i int, result *Result) {
	if !reflect.DeepEqual(h.all.items, h.timeline.CurrentItems()) {
		result.AddError(fmt.Sprintf("steps[%d]: full stream mirror %v differs from current items %v",
			i, labels(h.all.items), labels(h.timeline.CurrentItems())))
	}
	if !reflect.DeepEqual(h.events.items, h.timeline.CurrentEventItems()) {
		result.AddError(fmt.Sprintf("steps[%d]: event stream mirror %v differs from current event items %v",
			i, labels(h.events.items), labels(h.timeline.CurrentEventItems())))
	}
}

func checkExpect(i int, step Step, trace StepTrace, err error, result *Result) {
	prefix := fmt.Sprintf("steps[%d] %s", i, step.Do)
	exp := step.Expect

	switch {
	case exp != nil && exp.Error != "":
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", prefix, exp.Error))
		} else if !strings.Contains(err.Error(), exp.Error) {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got %q", prefix, exp.Error, err.Error()))
		}
	case err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
	}

	if exp == nil {
		return
	}
	if exp.All != nil && !slices.Equal(exp.All, trace.All) {
		result.AddError(fmt.Sprintf("%s: full stream published %v, want %v", prefix, trace.All, exp.All))
	}
	if exp.Events != nil && !slices.Equal(exp.Events, trace.Events) {
		result.AddError(fmt.Sprintf("%s: event stream published %v, want %v", prefix, trace.Events, exp.Events))
	}
}

// mirror is a subscriber-side copy of one stream, kept by applying
// every published batch.
type mirror struct {
	sub   *timeline.Subscription
	items []ir.TimelineItem
}

func subscribe(fn func(...timeline.SubscribeOption) ([]ir.TimelineItem, *timeline.Subscription, error)) (*mirror, error) {
	items, sub, err := fn()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &mirror{sub: sub, items: items}, nil
}

// drain applies every queued batch and returns their op summaries.
func (m *mirror) drain() ([]string, error) {
	summaries := []string{}
	for {
		batch, ok := m.sub.TryNext()
		if !ok {
			return summaries, nil
		}
		next, err := ir.ApplyDiff(m.items, batch)
		if err != nil {
			return summaries, err
		}
		m.items = next
		summaries = append(summaries, ir.Summaries(batch)...)
	}
}

func labels(items []ir.TimelineItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Label()
	}
	return out
}

// keyring is the scenario's decryptor: every event of a session
// decrypts to that session's key, once the key is available.
//
// Thread-safety: safe for concurrent use via internal mutex.
type keyring struct {
	mu       sync.Mutex
	keys     map[string]Key
	released map[string]bool
}

func newKeyring(keys map[string]Key) *keyring {
	return &keyring{keys: keys, released: make(map[string]bool)}
}

func (k *keyring) release(session string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.released[session] = true
}

// Decrypt implements timeline.Decryptor.
func (k *keyring) Decrypt(_ context.Context, _ ir.EventID, env ir.EncryptedEnvelope) (ir.DecryptedEvent, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key, ok := k.keys[env.SessionID]
	if !ok || (key.Withheld && !k.released[env.SessionID]) {
		return ir.DecryptedEvent{}, &ir.DecryptionFailure{
			Code:    ir.FailureUnknownSession,
			Message: "no room key for session " + env.SessionID,
		}
	}

	content, err := json.Marshal(key.Content)
	if err != nil {
		return ir.DecryptedEvent{}, fmt.Errorf("encode key content: %w", err)
	}
	verification := ir.Unverified(ir.UnsignedDevice)
	if key.Verified {
		verification = ir.Verified()
	}
	return ir.DecryptedEvent{
		Type:    key.Type,
		Content: content,
		Encryption: ir.EncryptionInfo{
			Sender:       ir.UserID(key.Sender),
			SenderDevice: key.Device,
			Algorithm:    ir.AlgorithmInfo{Name: env.Algorithm},
			Verification: verification,
		},
	}, nil
}
