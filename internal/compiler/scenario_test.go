package compiler

import (
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: edit_then_redact
description: A redaction wins over an earlier edit
timezone: Europe/Berlin
keys:
  s1:
    type: m.room.message
    content: {msgtype: m.text, body: secret}
    withheld: true
steps:
  - do: push_live_event
    event:
      event_id: $1
      sender: "@alice:x"
      origin_server_ts: 1704103200000
      type: m.room.message
      content: {msgtype: m.text, body: hello}
    expect:
      all: [push_back, push_front]
      events: [push_back]
  - do: push_redaction
    event_id: $1
    expect:
      all: [set 1]
  - do: import_key
    session: s1
  - do: retry_decryption
assertions:
  - type: layout
    items: [day:2024-01-01, $1]
  - type: item
    id: $1
    kind: redacted
  - type: op_count
    op: set
    count: 1
`

func TestValidateScenarioValid(t *testing.T) {
	errs := ValidateScenario([]byte(validScenario), "valid.yaml")
	assert.Empty(t, errs, "valid scenario should have no errors")
}

func TestCompileScenarioReturnsUnifiedValue(t *testing.T) {
	v, err := CompileScenario([]byte(validScenario), "valid.yaml")
	require.NoError(t, err)

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	require.NoError(t, err)
	assert.Equal(t, "edit_then_redact", name)

	steps, err := v.LookupPath(cue.ParsePath("steps")).List()
	require.NoError(t, err)
	n := 0
	for steps.Next() {
		n++
	}
	assert.Equal(t, 4, n)
}

func TestValidateScenarioSchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing description",
			doc:   "name: x\nsteps:\n  - do: clear\n",
			field: "description",
		},
		{
			name:  "no steps",
			doc:   "name: x\ndescription: d\nsteps: []\n",
			field: "steps",
		},
		{
			name:  "unknown step kind",
			doc:   "name: x\ndescription: d\nsteps:\n  - do: push_sticker\n",
			field: "steps",
		},
		{
			name:  "unknown field",
			doc:   "name: x\ndescription: d\nflow: []\nsteps:\n  - do: clear\n",
			field: "flow",
		},
		{
			name:  "bad op summary",
			doc:   "name: x\ndescription: d\nsteps:\n  - do: clear\n    expect:\n      all: [\"insert\"]\n",
			field: "steps",
		},
		{
			name:  "bad name",
			doc:   "name: Has Spaces\ndescription: d\nsteps:\n  - do: clear\n",
			field: "name",
		},
		{
			name:  "zero buffer",
			doc:   "name: x\ndescription: d\nsubscriber_buffer: 0\nsteps:\n  - do: clear\n",
			field: "subscriber_buffer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateScenario([]byte(tt.doc), "bad.yaml")
			require.NotEmpty(t, errs)
			assert.Equal(t, ErrSchemaViolation, errs[0].Code)

			var fields []string
			found := false
			for _, e := range errs {
				fields = append(fields, e.Field)
				found = found || strings.HasPrefix(e.Field, tt.field)
			}
			assert.True(t, found, "expected an error on %s, got %v", tt.field, fields)
		})
	}
}

func TestValidateScenarioParseError(t *testing.T) {
	errs := ValidateScenario([]byte("name: [unterminated\n"), "broken.yaml")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrScenarioParse, errs[0].Code)
}

func TestValidateScenarioSemantics(t *testing.T) {
	doc := `
name: semantic
description: every semantic rule broken once
timezone: Mars/Olympus
keys:
  s1: {type: m.room.message, content: {body: x}}
steps:
  - do: push_live_event
  - do: push_receipt
    event_id: $1
  - do: push_decryption_result
    event_id: $1
    result: {}
  - do: import_key
    session: s2
assertions:
  - type: layout
  - type: op_count
    op: set
`
	errs := ValidateScenario([]byte(doc), "semantic.yaml")

	byCode := map[string][]string{}
	for _, e := range errs {
		byCode[e.Code] = append(byCode[e.Code], e.Field)
		assert.Positive(t, e.Line, "%s should carry a line", e.Field)
	}

	assert.Equal(t, []string{"timezone"}, byCode[ErrInvalidTimezone])
	assert.Equal(t, []string{"steps[0].event", "steps[1].user"}, byCode[ErrMissingStepArgument])
	assert.Equal(t, []string{"steps[2].result"}, byCode[ErrInvalidDecryptionResult])
	assert.Equal(t, []string{"steps[3].session"}, byCode[ErrUnknownSession])
	assert.Equal(t, []string{"assertions[0].items", "assertions[1].count"}, byCode[ErrMissingAssertionArgument])
}

func TestCompileScenarioFirstError(t *testing.T) {
	_, err := CompileScenario([]byte("name: x\ndescription: d\nsteps:\n  - do: mark_fully_read\n"), "s.yaml")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "steps[0].event_id", ce.Field)
	assert.Contains(t, ce.Error(), ErrMissingStepArgument)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "steps[0].event", Message: "push_live_event requires event", Code: ErrMissingStepArgument, Line: 4}
	assert.Equal(t, "[E122] line 4: steps[0].event: push_live_event requires event", e.Error())

	e.Line = 0
	assert.Equal(t, "[E122] steps[0].event: push_live_event requires event", e.Error())
}

func TestFieldOfStripsDefinition(t *testing.T) {
	assert.Equal(t, "steps.0.do", fieldOf([]string{"#Scenario", "steps", "0", "do"}))
	assert.Equal(t, "name", fieldOf([]string{"name"}))
	assert.Equal(t, "scenario", fieldOf(nil))
}
