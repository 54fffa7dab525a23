package harness

// StepTrace records what one step published.
type StepTrace struct {
	Step int    `json:"step"`
	Do   string `json:"do"`

	// All and Events are the diff summaries published on each stream,
	// every batch of the step flattened in order.
	All    []string `json:"all"`
	Events []string `json:"events"`

	// Error is the step's error message, if it failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Layout is the final item labels of the full stream.
	Layout []string `json:"layout"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
		Layout: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(st StepTrace) {
	r.Trace = append(r.Trace, st)
}
