// Package result defines the normalized outcome of one CLI agent invocation.
package result

import "time"

// Status classifies how an invocation ended, independent of which agent
// produced the output or what shape that output had.
type Status string

const (
	StatusOK            Status = "ok"
	StatusAgentError    Status = "agent_error"
	StatusTimeout       Status = "timeout"
	StatusLaunchFailure Status = "launch_failure"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusAgentError, StatusTimeout, StatusLaunchFailure:
		return true
	}
	return false
}

// Result is the agent-agnostic outcome of a single invocation. It is
// produced once, immutable after creation, and becomes part of exactly
// one conversation turn.
type Result struct {
	Status      Status         `json:"status"`
	Answer      string         `json:"answer,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`

	// ExitCode preserves the subprocess's raw exit status for
	// diagnostics even after it has been folded into Status.
	// -1 when no process ran or none exited.
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// SetMeta stores a metadata key, allocating the map on first use.
func (r *Result) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Meta returns the metadata value for key, or nil.
func (r *Result) Meta(key string) any {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata[key]
}
