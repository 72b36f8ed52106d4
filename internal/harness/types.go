package harness

// Trace event types.
const (
	EventFired = "fired"
	EventRun   = "run"
	EventEnd   = "end"
)

// TraceEvent is one observable effect of a scenario step.
//
// Fired events are emitted by the tracing action handler in firing order.
// Run events summarize one class after each run step, including the
// subjects still open.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Step int    `json:"step"`
	Type string `json:"type"`
	At   string `json:"at"`

	Class   string `json:"class"`
	Subject string `json:"subject,omitempty"`
	Trigger string `json:"trigger,omitempty"`
	Action  string `json:"action,omitempty"`
	Basis   string `json:"basis,omitempty"`

	Opened int      `json:"opened,omitempty"`
	Closed int      `json:"closed,omitempty"`
	Open   []string `json:"open,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every firing and run summary in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Open holds the open subjects per class after the last step.
	Open map[string][]string `json:"open,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Open:   make(map[string][]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fired returns the fired events, optionally filtered by action name.
func (r *Result) Fired(action string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventFired && (action == "" || e.Action == action) {
			out = append(out, e)
		}
	}
	return out
}
