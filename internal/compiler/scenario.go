// Package compiler checks scenario documents against the CUE scenario
// schema before they are decoded and run.
//
// Structural rules (field names, types, enumerations, diff summary
// syntax) live in schema.cue. Rules that depend on the step kind or
// on other parts of the document are checked here in Go.
package compiler

import (
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// requiredStepArgs lists the arguments each step kind cannot run without.
var requiredStepArgs = map[string][]string{
	"push_live_event":        {"event"},
	"push_local_echo":        {"event"},
	"push_redaction":         {"event_id"},
	"push_decryption_result": {"event_id", "result"},
	"push_receipt":           {"user", "event_id"},
	"mark_fully_read":        {"event_id"},
	"push_send_failure":      {"txn_id"},
	"cancel_local_echo":      {"txn_id"},
	"import_key":             {"session"},
}

// requiredAssertionArgs lists the arguments each assertion type needs.
var requiredAssertionArgs = map[string][]string{
	"layout":          {"items"},
	"item":            {"id"},
	"op_count":        {"op", "count"},
	"idle":            {"after"},
	"pending_targets": {"count"},
}

// compiled is a scenario document together with its schema unification.
type compiled struct {
	doc     cue.Value
	unified cue.Value
}

func compile(data []byte, filename string) (*compiled, []ValidationError) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing here is a build defect.
		panic(fmt.Sprintf("compiler: invalid scenario schema: %v", err))
	}

	f, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, validationErrors(err, ErrScenarioParse)
	}
	doc := ctx.BuildFile(f)
	if err := doc.Err(); err != nil {
		return nil, validationErrors(err, ErrScenarioParse)
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, validationErrors(err, ErrSchemaViolation)
	}
	return &compiled{doc: doc, unified: unified}, nil
}

// CompileScenario unifies a YAML scenario with the schema and returns
// the resulting value. The error is a *CompileError for the first
// problem found; use ValidateScenario to get every problem.
func CompileScenario(data []byte, filename string) (cue.Value, error) {
	c, errs := compile(data, filename)
	if len(errs) > 0 {
		e := errs[0]
		return cue.Value{}, &CompileError{Field: e.Field, Message: fmt.Sprintf("[%s] %s", e.Code, e.Message)}
	}
	if semantic := checkSemantics(c.doc); len(semantic) > 0 {
		e := semantic[0]
		return cue.Value{}, &CompileError{Field: e.Field, Message: fmt.Sprintf("[%s] line %d: %s", e.Code, e.Line, e.Message)}
	}
	return c.unified, nil
}

// ValidateScenario checks a YAML scenario document.
// Returns all errors found (does not fail-fast) once the document
// satisfies the schema; schema errors are reported on their own.
func ValidateScenario(data []byte, filename string) []ValidationError {
	c, errs := compile(data, filename)
	if len(errs) > 0 {
		return errs
	}
	return checkSemantics(c.doc)
}

func checkSemantics(doc cue.Value) []ValidationError {
	var errs []ValidationError

	// E125: timezone must resolve
	if tz := lookup(doc, "timezone"); tz.Exists() {
		name, _ := tz.String()
		if _, err := time.LoadLocation(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "timezone",
				Message: fmt.Sprintf("unknown timezone %q", name),
				Code:    ErrInvalidTimezone,
				Line:    tz.Pos().Line(),
			})
		}
	}

	sessions := map[string]bool{}
	if keys := lookup(doc, "keys"); keys.Exists() {
		it, err := keys.Fields()
		if err == nil {
			for it.Next() {
				sessions[it.Selector().Unquoted()] = true
			}
		}
	}

	each(lookup(doc, "steps"), func(i int, step cue.Value) {
		kind, _ := lookup(step, "do").String()
		field := fmt.Sprintf("steps[%d]", i)

		// E122: arguments required by the step kind
		for _, arg := range requiredStepArgs[kind] {
			if !lookup(step, arg).Exists() {
				errs = append(errs, ValidationError{
					Field:   field + "." + arg,
					Message: fmt.Sprintf("%s requires %s", kind, arg),
					Code:    ErrMissingStepArgument,
					Line:    step.Pos().Line(),
				})
			}
		}

		// E123: a decryption result is exactly one of event or failure
		if result := lookup(step, "result"); result.Exists() {
			hasEvent := lookup(result, "event").Exists()
			hasFailure := lookup(result, "failure").Exists()
			if hasEvent == hasFailure {
				errs = append(errs, ValidationError{
					Field:   field + ".result",
					Message: "result must carry exactly one of event or failure",
					Code:    ErrInvalidDecryptionResult,
					Line:    result.Pos().Line(),
				})
			}
		}

		// E124: imported sessions must be declared
		if kind == "import_key" {
			if s := lookup(step, "session"); s.Exists() {
				name, _ := s.String()
				if !sessions[name] {
					errs = append(errs, ValidationError{
						Field:   field + ".session",
						Message: fmt.Sprintf("no key declared for session %q", name),
						Code:    ErrUnknownSession,
						Line:    s.Pos().Line(),
					})
				}
			}
		}
	})

	// E130: arguments required by the assertion type
	each(lookup(doc, "assertions"), func(i int, a cue.Value) {
		typ, _ := lookup(a, "type").String()
		for _, arg := range requiredAssertionArgs[typ] {
			if !lookup(a, arg).Exists() {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("assertions[%d].%s", i, arg),
					Message: fmt.Sprintf("%s assertion requires %s", typ, arg),
					Code:    ErrMissingAssertionArgument,
					Line:    a.Pos().Line(),
				})
			}
		}
	})

	return errs
}

func lookup(v cue.Value, path string) cue.Value {
	return v.LookupPath(cue.ParsePath(path))
}

func each(list cue.Value, fn func(int, cue.Value)) {
	if !list.Exists() {
		return
	}
	it, err := list.List()
	if err != nil {
		return
	}
	for i := 0; it.Next(); i++ {
		fn(i, it.Value())
	}
}
