package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/roomline/internal/compiler"
)

// Scenario drives one room timeline through a sequence of steps and
// checks the diffs it publishes and the layout it ends with.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Room is the room id. Defaults to DefaultRoom.
	Room string `yaml:"room,omitempty"`

	// Timezone is the IANA zone used for day dividers. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	// Now is the wall clock, in milliseconds, used to stamp local echoes
	// that carry no timestamp. Defaults to 2024-01-01T10:00:00Z.
	Now int64 `yaml:"now,omitempty"`

	HideReadMarker bool `yaml:"hide_read_marker,omitempty"`

	// SubscriberBuffer bounds the scenario's subscriptions. Defaults to
	// DefaultSubscriberBuffer, large enough that no scenario resyncs
	// unless it asks for a small buffer.
	SubscriberBuffer int `yaml:"subscriber_buffer,omitempty"`

	// Keys maps megolm session ids to the clear event they decrypt to.
	Keys map[string]Key `yaml:"keys,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated once every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Key is the decryption outcome for every event of one session.
type Key struct {
	Type     string         `yaml:"type"`
	Content  map[string]any `yaml:"content"`
	Sender   string         `yaml:"sender,omitempty"`
	Device   string         `yaml:"device,omitempty"`
	Verified bool           `yaml:"verified,omitempty"`

	// Withheld keys are unknown to the decryptor until an import_key step
	// releases them.
	Withheld bool `yaml:"withheld,omitempty"`
}

// Step is one ingestion call against the timeline.
type Step struct {
	// Do is an ingestion command kind, "retry_decryption" or "import_key".
	Do string `yaml:"do"`

	// Event is the raw event in its wire form (event_id, sender,
	// origin_server_ts, type, content, ...).
	Event map[string]any `yaml:"event,omitempty"`

	EventID   string         `yaml:"event_id,omitempty"`
	TxnID     string         `yaml:"txn_id,omitempty"`
	User      string         `yaml:"user,omitempty"`
	Reason    string         `yaml:"reason,omitempty"`
	Timestamp int64          `yaml:"ts,omitempty"`
	Result    map[string]any `yaml:"result,omitempty"`
	Session   string         `yaml:"session,omitempty"`
	EventIDs  []string       `yaml:"event_ids,omitempty"`

	// Expect checks what this step published. If nil, nothing is checked
	// beyond the step succeeding.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect lists the diff summaries a step must publish on each stream,
// or the error it must fail with. A nil list is not checked; an empty
// list requires the stream to stay silent.
type Expect struct {
	All    []string `yaml:"all,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Error  string   `yaml:"error,omitempty"`
}

// Assertion checks the timeline once every step has run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "layout": the item labels of a stream, in order
	// - "item": the rendered state of one event item
	// - "op_count": how often an op kind was published on a stream
	// - "idle": a stream published nothing after a given step
	// - "pending_targets": relation targets still waiting for their event
	// - "replay": replaying the journal rebuilds the same items
	Type string `yaml:"type"`

	// Stream is "all" (default) or "events".
	Stream string `yaml:"stream,omitempty"`

	// Items are item labels (used by layout).
	Items []string `yaml:"items,omitempty"`

	// ID is an event id or transaction id (used by item).
	ID string `yaml:"id,omitempty"`

	// The remaining item fields are only checked when set.
	Kind          string         `yaml:"kind,omitempty"`
	Body          *string        `yaml:"body,omitempty"`
	FormattedBody *string        `yaml:"formatted_body,omitempty"`
	Edited        *bool          `yaml:"edited,omitempty"`
	Reactions     map[string]int `yaml:"reactions,omitempty"`
	SendState     string         `yaml:"send_state,omitempty"`
	Verification  string         `yaml:"verification,omitempty"`
	Receipts      []string       `yaml:"receipts,omitempty"`

	// Op is a diff kind (used by op_count).
	Op string `yaml:"op,omitempty"`

	// Count is an exact expected number (used by op_count, pending_targets).
	Count *int `yaml:"count,omitempty"`

	// After is a zero-based step index (used by idle).
	After *int `yaml:"after,omitempty"`
}

// Assertion type constants.
const (
	AssertLayout         = "layout"
	AssertItem           = "item"
	AssertOpCount        = "op_count"
	AssertIdle           = "idle"
	AssertPendingTargets = "pending_targets"
	AssertReplay         = "replay"
)

// Step kinds that are not ingestion commands.
const (
	StepRetryDecryption = "retry_decryption"
	StepImportKey       = "import_key"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, violates the scenario
// schema, contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, path)
}

// ParseScenario parses a scenario document; filename is used in error
// positions only.
func ParseScenario(data []byte, filename string) (*Scenario, error) {
	if verrs := compiler.ValidateScenario(data, filename); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("invalid scenario %s: %w", filename, errors.Join(errs...))
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks the rules a Scenario built in Go must satisfy.
// Documents loaded from YAML have already passed the schema.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must not be negative")
	}

	for i, step := range s.Steps {
		if step.Do == "" {
			return fmt.Errorf("steps[%d]: do is required", i)
		}
		if step.Do == StepImportKey {
			if _, ok := s.Keys[step.Session]; !ok {
				return fmt.Errorf("steps[%d]: no key declared for session %q", i, step.Session)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Stream {
	case "", "all", "events":
	default:
		return fmt.Errorf("assertions[%d]: unknown stream %q", index, a.Stream)
	}

	switch a.Type {
	case AssertLayout:
		if a.Items == nil {
			return fmt.Errorf("assertions[%d]: items is required for layout", index)
		}
	case AssertItem:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for item", index)
		}
	case AssertOpCount:
		if a.Op == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: op and count are required for op_count", index)
		}
	case AssertIdle:
		if a.After == nil {
			return fmt.Errorf("assertions[%d]: after is required for idle", index)
		}
	case AssertPendingTargets:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for pending_targets", index)
		}
	case AssertReplay:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
