package harness

// TraceEvent records one executed step and what it did.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Node   string         `json:"node"`
	Op     string         `json:"op"`
	Target string         `json:"target,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order. Used for golden
	// comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(node, op, target string, counts map[string]int) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Node:   node,
		Op:     op,
		Target: target,
		Counts: counts,
	})
}
