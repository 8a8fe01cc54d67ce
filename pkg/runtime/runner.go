// Package runtime executes validated scenario documents: it gates steps on
// entry criteria, dispatches commands over the connection registry, analyzes
// outputs and diagnostic logs, and aggregates per-step results.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/baseboardio/sledge/pkg/connection"
	"github.com/baseboardio/sledge/pkg/expression"
	"github.com/baseboardio/sledge/pkg/schema"
)

// DefaultMaxDepth bounds scenario invocation nesting.
const DefaultMaxDepth = 10

// LogReader resolves a log_analysis_path to its text content. The default
// implementation reads from the local filesystem; tests substitute fakes.
type LogReader interface {
	ReadLog(path string) (string, error)
}

type fileLogReader struct{}

func (fileLogReader) ReadLog(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading log file: %w", err)
	}
	return string(data), nil
}

// Runner drives scenario execution. Zero-value optional fields get
// defaults: Out falls back to os.Stdout, Logs to local file reads,
// MaxDepth to DefaultMaxDepth. Trace may be nil.
type Runner struct {
	Registry *connection.Registry
	Eval     *expression.Evaluator
	Cache    *schema.Cache
	Trace    *TraceWriter
	Logs     LogReader
	Out      io.Writer
	MaxDepth int
}

// frame carries the per-invocation state of one scenario run.
type frame struct {
	dir   string
	ctx   *Context
	stack *InvocationStack
	res   *ScenarioResult
	tasks []*backgroundTask
}

func (r *Runner) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *Runner) logs() LogReader {
	if r.Logs != nil {
		return r.Logs
	}
	return fileLogReader{}
}

func (r *Runner) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return DefaultMaxDepth
}

// Run executes one scenario document. scenarioPath anchors relative paths
// (invoked scenarios, expected-output files, logs). parent may be nil for a
// top-level run; the scenario always gets its own writable parameter layer.
func (r *Runner) Run(ctx context.Context, doc *schema.Document, scenarioPath string, parent *Context, stack *InvocationStack) (*ScenarioResult, error) {
	if stack == nil {
		stack = &InvocationStack{}
	}
	sc := &doc.TestScenario
	if err := stack.Push(sc.TestID); err != nil {
		return nil, err
	}
	defer stack.Pop()

	if parent == nil {
		parent = NewContext()
	}
	fr := &frame{
		dir:   filepath.Dir(scenarioPath),
		ctx:   parent.Child(),
		stack: stack,
		res: &ScenarioResult{
			TestID:    sc.TestID,
			TestName:  sc.TestName,
			TestGroup: sc.TestGroup,
			StartedAt: time.Now().UTC(),
		},
	}
	r.trace(TraceEvent{Event: "scenario_start", TestID: sc.TestID})
	fmt.Fprintf(r.out(), "▶ %s — %s\n", sc.TestID, sc.TestName)

	for i := range sc.Steps {
		step := &sc.Steps[i]
		res := r.executeStep(ctx, fr, step)
		fr.res.Steps = append(fr.res.Steps, res)
		r.printStep(res)
		r.trace(TraceEvent{Event: "step_done", TestID: sc.TestID, StepID: res.StepID, Status: res.Status, Step: res})
		if res.Terminal() && !step.Continue {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	r.finalizeBackground(ctx, fr)

	fr.res.EndedAt = time.Now().UTC()
	fr.res.finalize()
	r.trace(TraceEvent{Event: "scenario_done", TestID: sc.TestID, Status: fr.res.Status})
	return fr.res, nil
}

func (r *Runner) printStep(res *StepResult) {
	switch res.Status {
	case StatusPassed:
		fmt.Fprintf(r.out(), "  ✓ %s\n", res.StepID)
	case StatusSkipped:
		fmt.Fprintf(r.out(), "  ⊘ %s (entry criteria not met)\n", res.StepID)
	case StatusFailed:
		fmt.Fprintf(r.out(), "  ✗ %s: %s\n", res.StepID, firstLine(res.Mismatch, res.Error))
	case StatusError:
		fmt.Fprintf(r.out(), "  ✗ %s [%s]: %s\n", res.StepID, res.ErrorKind, res.Error)
	}
}

func (r *Runner) trace(ev TraceEvent) {
	if r.Trace != nil {
		r.Trace.Write(ev)
	}
}

func firstLine(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			for i := 0; i < len(c); i++ {
				if c[i] == '\n' {
					return c[:i]
				}
			}
			return c
		}
	}
	return ""
}

// resolvePath anchors relative recipe paths at the scenario file's directory.
func (fr *frame) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(fr.dir, p)
}
