package runtime

import (
	"time"
)

// Step and scenario terminal statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Error kinds recorded on StepResult.ErrorKind when Status is error.
const (
	ErrKindExpression = "expression"
	ErrKindConnection = "connection"
	ErrKindTimeout    = "timeout"
	ErrKindCancelled  = "cancelled"
	ErrKindCycle      = "cycle"
	ErrKindInternal   = "internal"
)

// StepResult captures the outcome of one step execution, including every
// loop iteration's final state.
type StepResult struct {
	StepID     string            `json:"step_id"`
	StepName   string            `json:"step_name,omitempty"`
	StepType   string            `json:"step_type"`
	Status     string            `json:"status"`
	Connection string            `json:"connection,omitempty"`
	Command    string            `json:"command,omitempty"`
	Output     string            `json:"output,omitempty"`
	Expected   string            `json:"expected,omitempty"`
	Mismatch   string            `json:"mismatch,omitempty"`
	ExitCode   int               `json:"exit_code,omitempty"`
	Iterations int               `json:"iterations,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Codes      []string          `json:"diagnostic_codes,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Background bool              `json:"background,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	Nested     *ScenarioResult   `json:"nested,omitempty"`
}

// Duration is the wall-clock time the step took.
func (r *StepResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Terminal reports whether the step reached a non-passing terminal state
// that should stop the scenario unless the step tolerates failure.
func (r *StepResult) Terminal() bool {
	return r.Status == StatusFailed || r.Status == StatusError
}

// ScenarioResult aggregates the step outcomes of one scenario invocation.
type ScenarioResult struct {
	TestID    string        `json:"test_id"`
	TestName  string        `json:"test_name,omitempty"`
	TestGroup string        `json:"test_group,omitempty"`
	Status    string        `json:"status"`
	Steps     []*StepResult `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
}

// HasError reports whether any step, nested invocations included, ended in
// the error state. Distinguishes an errored run (infrastructure, timeout,
// bad expression) from a plain validation failure.
func (s *ScenarioResult) HasError() bool {
	for _, st := range s.Steps {
		if st.Status == StatusError {
			return true
		}
		if st.Nested != nil && st.Nested.HasError() {
			return true
		}
	}
	return false
}

// finalize computes the aggregate status. Any failed or errored step marks
// the scenario failed even when later steps ran under a continue policy; a
// scenario whose steps were all skipped is itself skipped.
func (s *ScenarioResult) finalize() {
	ran := false
	for _, st := range s.Steps {
		switch st.Status {
		case StatusFailed, StatusError:
			s.Status = StatusFailed
			return
		case StatusPassed:
			ran = true
		}
	}
	if ran {
		s.Status = StatusPassed
	} else {
		s.Status = StatusSkipped
	}
}
