package runner

import "time"

// State is the lifecycle state of a sub-step.
type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StateExecuting State = "executing"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SubstepResult records the outcome of one sub-step.
type SubstepResult struct {
	// StepID and SubstepID are the rendered ids.
	StepID    string
	SubstepID string

	// Plugin is the plugin the sub-step dispatched to.
	Plugin string

	// State is the terminal state (Succeeded, Failed, Skipped).
	State State

	// Attempts is the number of execute invocations that occurred.
	Attempts int

	// Duration covers resolution through the final attempt.
	Duration time.Duration

	// Err is the terminal error for failed sub-steps.
	Err error

	// ErrorKind classifies the terminal error (template, mapping, config,
	// unknown_plugin, transient, timeout, fatal).
	ErrorKind string
}

// QualifiedID returns the "step:substep" form.
func (r *SubstepResult) QualifiedID() string {
	return r.StepID + ":" + r.SubstepID
}

// Report is the outcome of a whole run, sufficient for the caller to set an
// exit code and point at the first failure.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string

	// Status is the overall outcome.
	Status Status

	// DryRun marks a resolve-and-validate run with no plugin execution.
	DryRun bool

	// StartedAt is when the run began.
	StartedAt time.Time

	// Duration is the total wall time of the run.
	Duration time.Duration

	// Results holds one entry per visited sub-step, in execution order.
	Results []SubstepResult
}

// FirstFailure returns the earliest failed sub-step, or nil.
func (r *Report) FirstFailure() *SubstepResult {
	for i := range r.Results {
		if r.Results[i].State == StateFailed {
			return &r.Results[i]
		}
	}
	return nil
}

// Failures returns every failed sub-step in execution order.
func (r *Report) Failures() []*SubstepResult {
	var out []*SubstepResult
	for i := range r.Results {
		if r.Results[i].State == StateFailed {
			out = append(out, &r.Results[i])
		}
	}
	return out
}

func (r *Report) record(res SubstepResult) {
	r.Results = append(r.Results, res)
}
