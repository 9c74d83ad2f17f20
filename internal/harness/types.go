package harness

import (
	"github.com/roach88/marksync/internal/entity"
)

// Trace entry types.
const (
	EntryStep  = "step"  // a scenario step and the state it left behind
	EntryEvent = "event" // a mutation event delivered on the bus
	EntryCall  = "call"  // a request answered by the remote backend
)

// TraceEvent is one entry of a scenario trace. Entries of a step appear in
// the order step, bus events, remote calls.
type TraceEvent struct {
	Step   int         `json:"step"`
	Type   string      `json:"type"`
	Action string      `json:"action,omitempty"`
	Kind   entity.Kind `json:"kind,omitempty"`
	Scope  string      `json:"scope,omitempty"`
	Op     entity.Op   `json:"op,omitempty"`

	// Seq and Origin are set on event entries.
	Seq    int64  `json:"seq,omitempty"`
	Origin string `json:"origin,omitempty"`

	// Status is the HTTP status of a call entry.
	Status int `json:"status,omitempty"`

	// State and IDs describe the model a step acted on, when it is open.
	// For overview steps IDs are the visible tabs.
	State string   `json:"state,omitempty"`
	IDs   []string `json:"ids,omitempty"`

	// Error is the code of the error a step returned.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step, bus event and remote call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
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

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the bus event entries of the trace.
func (r *Result) Events() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EntryEvent {
			out = append(out, e)
		}
	}
	return out
}
