// Package report aggregates scenario results into a run summary and the
// results.json artifact.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/baseboardio/sledge/pkg/runtime"
)

// FailureDetail pinpoints one failed or errored step for the run summary.
type FailureDetail struct {
	TestID     string `json:"test_id"`
	StepID     string `json:"step_id"`
	Connection string `json:"connection,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// Summary is the aggregate view of one run. Failed counts scenarios that
// lost a validation; Errors counts scenarios where a step could not run to
// a verdict (connection, timeout, expression, cycle).
type Summary struct {
	RunID          string          `json:"run_id"`
	Total          int             `json:"total"`
	Passed         int             `json:"passed"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	Errors         int             `json:"errors"`
	FailureDetails []FailureDetail `json:"failure_details,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
}

// Builder collects scenario results as they complete. Safe for concurrent
// use.
type Builder struct {
	mu        sync.Mutex
	runID     string
	started   time.Time
	scenarios []*runtime.ScenarioResult
}

// NewBuilder starts an empty report for the given run.
func NewBuilder(runID string) *Builder {
	return &Builder{runID: runID, started: time.Now().UTC()}
}

// RecordScenario commits a completed scenario result, nested invocations
// included, to the report.
func (b *Builder) RecordScenario(res *runtime.ScenarioResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenarios = append(b.scenarios, res)
}

// Record commits a single step result outside any scenario run, such as a
// connection preflight. It is wrapped in a synthetic one-step scenario.
func (b *Builder) Record(testID string, step *runtime.StepResult) {
	res := &runtime.ScenarioResult{
		TestID:    testID,
		Status:    step.Status,
		Steps:     []*runtime.StepResult{step},
		StartedAt: step.StartedAt,
		EndedAt:   step.EndedAt,
	}
	b.RecordScenario(res)
}

// Summary computes the aggregate counts and failure details for everything
// recorded so far.
func (b *Builder) Summary() *Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Summary{
		RunID:     b.runID,
		StartedAt: b.started,
		EndedAt:   time.Now().UTC(),
	}
	for _, sc := range b.scenarios {
		s.Total++
		switch {
		case sc.Status == runtime.StatusPassed:
			s.Passed++
		case sc.Status == runtime.StatusSkipped:
			s.Skipped++
		case sc.HasError():
			s.Errors++
		default:
			s.Failed++
		}
		collectFailures(sc, &s.FailureDetails)
	}
	return s
}

// AllPassed reports whether every recorded scenario passed or was skipped.
func (b *Builder) AllPassed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sc := range b.scenarios {
		if sc.Status == runtime.StatusFailed {
			return false
		}
	}
	return true
}

// collectFailures walks a scenario's steps, descending into nested
// invocations, and appends a detail for each failed or errored step.
func collectFailures(sc *runtime.ScenarioResult, out *[]FailureDetail) {
	for _, st := range sc.Steps {
		if st.Terminal() {
			*out = append(*out, FailureDetail{
				TestID:     sc.TestID,
				StepID:     st.StepID,
				Connection: st.Connection,
				Expected:   st.Expected,
				Actual:     st.Output,
				Error:      st.Error,
				ErrorKind:  st.ErrorKind,
			})
		}
		if st.Nested != nil {
			collectFailures(st.Nested, out)
		}
	}
}

// results is the on-disk shape of results.json.
type results struct {
	Summary   *Summary                  `json:"summary"`
	Scenarios []*runtime.ScenarioResult `json:"scenarios"`
}

// WriteJSON writes the full results document: summary plus every recorded
// scenario with its step detail.
func (b *Builder) WriteJSON(w io.Writer) error {
	summary := b.Summary()
	b.mu.Lock()
	doc := results{Summary: summary, Scenarios: b.scenarios}
	b.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
