/*
Package learning feeds observed tool calls back into the retrieval engine.

Calls are classified into signals by the filtering layer and queued here. A
single background worker applies them one at a time, so a tool call never
waits on an embedding request or a database write, and writes to the same
association are never interleaved.
*/
package learning

import "time"

// Signal is one observation that a stated context led to a tool call.
type Signal struct {
	// Query is the session context that was active when the tool was called.
	Query string

	// Capability is the namespaced tool name that was called.
	Capability string

	// Strength is the reinforcement weight (0.5, 1.0 or 1.5).
	Strength float64

	// ObservedAt is when the call happened.
	ObservedAt time.Time
}

// NewSignal creates a signal observed now.
func NewSignal(query, capability string, strength float64) Signal {
	return Signal{
		Query:      query,
		Capability: capability,
		Strength:   strength,
		ObservedAt: time.Now(),
	}
}

// Stats counts signals by outcome.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Recorded  int64 `json:"recorded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}
