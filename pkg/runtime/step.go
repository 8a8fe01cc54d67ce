package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baseboardio/sledge/pkg/analysis"
	"github.com/baseboardio/sledge/pkg/connection"
	"github.com/baseboardio/sledge/pkg/expression"
	"github.com/baseboardio/sledge/pkg/schema"
)

// executeStep runs one step through its full lifecycle: gate on entry
// criteria, dispatch by type (looping if requested), classify any error.
// The step's duration bound covers every loop iteration together.
func (r *Runner) executeStep(ctx context.Context, fr *frame, step *schema.Step) *StepResult {
	res := &StepResult{
		StepID:     step.StepID,
		StepName:   step.StepName,
		StepType:   step.StepType,
		Connection: step.Connection,
		StartedAt:  time.Now().UTC(),
	}
	defer func() { res.EndedAt = time.Now().UTC() }()

	met, err := r.gate(fr, step)
	if err != nil {
		return r.fail(res, err)
	}
	if !met {
		res.Status = StatusSkipped
		return res
	}

	// Background steps manage their own duration bound; the deferred cancel
	// here would kill the task as soon as the step returns.
	stepCtx := ctx
	if step.Duration > 0 && !step.Background {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Duration)*time.Second)
		defer cancel()
	}

	loop := step.LoopCount()
	for i := 0; i < loop; i++ {
		if i > 0 {
			met, err := r.gate(fr, step)
			if err != nil {
				return r.fail(res, err)
			}
			if !met {
				break
			}
		}
		res.Iterations = i + 1
		if err := r.dispatch(stepCtx, fr, step, res); err != nil {
			return r.classify(ctx, stepCtx, res, err)
		}
		if res.Terminal() || res.Background {
			break
		}
	}
	if res.Status == "" {
		res.Status = StatusPassed
	}
	return res
}

// gate evaluates the step's entry criteria against the current parameters.
// All criteria must hold; a step with none always runs.
func (r *Runner) gate(fr *frame, step *schema.Step) (bool, error) {
	if len(step.EntryCriteria) == 0 {
		return true, nil
	}
	exprs := make([]string, len(step.EntryCriteria))
	for i, c := range step.EntryCriteria {
		exprs[i] = c.Expression
	}
	return r.Eval.EvaluateAll(exprs, fr.ctx.Snapshot())
}

func (r *Runner) dispatch(ctx context.Context, fr *frame, step *schema.Step, res *StepResult) error {
	switch step.StepType {
	case schema.StepTypeCommand:
		return r.runCommand(ctx, fr, step, res)
	case schema.StepTypeLog:
		return r.runLogAnalysis(fr, step, res)
	case schema.StepTypeInvoke:
		return r.runInvoke(ctx, fr, step, res)
	default:
		return fmt.Errorf("unknown step type %q", step.StepType)
	}
}

// fail marks a pre-dispatch error (gate evaluation) on the result.
func (r *Runner) fail(res *StepResult, err error) *StepResult {
	res.Status = StatusError
	res.Error = err.Error()
	var exprErr *expression.Error
	if errors.As(err, &exprErr) {
		res.ErrorKind = ErrKindExpression
	} else {
		res.ErrorKind = ErrKindInternal
	}
	return res
}

// classify maps a dispatch error to a terminal status and error kind. The
// step-level deadline takes precedence over other causes so a duration
// overrun is always reported as a timeout.
func (r *Runner) classify(parent, stepCtx context.Context, res *StepResult, err error) *StepResult {
	res.Error = err.Error()
	res.Status = StatusError
	switch {
	case parent.Err() != nil:
		res.ErrorKind = ErrKindCancelled
	case stepCtx.Err() == context.DeadlineExceeded:
		res.ErrorKind = ErrKindTimeout
	default:
		var (
			timeoutErr *connection.TimeoutError
			connErr    *connection.ConnectionError
			cmdErr     *connection.CommandError
			cfgErr     *connection.ConfigError
			cycleErr   *CycleError
			exprErr    *expression.Error
		)
		switch {
		case errors.As(err, &timeoutErr):
			res.ErrorKind = ErrKindTimeout
		case errors.As(err, &connErr):
			res.ErrorKind = ErrKindConnection
		case errors.As(err, &cfgErr):
			res.ErrorKind = ErrKindConnection
		case errors.As(err, &cmdErr):
			// The command ran; its output carried a failure signature.
			res.Status = StatusFailed
			res.ErrorKind = ""
		case errors.As(err, &cycleErr):
			res.ErrorKind = ErrKindCycle
		case errors.As(err, &exprErr):
			res.ErrorKind = ErrKindExpression
		default:
			res.ErrorKind = ErrKindInternal
		}
	}
	return res
}

func (r *Runner) runCommand(ctx context.Context, fr *frame, step *schema.Step, res *StepResult) error {
	conn, err := r.Registry.Acquire(ctx, step.Connection, step.ConnectionType)
	if err != nil {
		return err
	}
	cmd := step.StepCommand
	if step.ContainerName != "" {
		cmd = fmt.Sprintf("docker exec %s sh -c %q", step.ContainerName, cmd)
	}
	res.Command = cmd

	if step.Background {
		r.startBackground(ctx, fr, step, res, conn, cmd)
		return nil
	}

	out, err := conn.Execute(ctx, cmd, connection.ExecOptions{UseSudo: step.UseSudo})
	if out != nil {
		res.Output = out.Stdout
		res.ExitCode = out.ExitCode
	}
	if err != nil {
		return err
	}
	return r.assess(fr, step, res, out.Stdout)
}

// assess applies output validation, capture-group analysis, and diagnostic
// rules to command output, updating the shared parameter context.
func (r *Runner) assess(fr *frame, step *schema.Step, res *StepResult, output string) error {
	if step.ValidatorType != "" {
		expected := step.ExpectedOutput
		if step.ExpectedOutputPath != "" {
			data, err := r.logs().ReadLog(fr.resolvePath(step.ExpectedOutputPath))
			if err != nil {
				return err
			}
			expected = data
		}
		res.Expected = expected
		ok, mismatch, err := analysis.Validate(output, step.ValidatorType, expected)
		if err != nil {
			return err
		}
		if !ok {
			res.Status = StatusFailed
			res.Mismatch = mismatch.String()
			return nil
		}
	}

	if len(step.OutputAnalysis) > 0 {
		params, err := analysis.AnalyzeOutput(output, step.OutputAnalysis)
		if err != nil {
			return err
		}
		r.bindParams(fr, res, params)
	}

	if len(step.DiagnosticAnalysis) > 0 {
		report, err := analysis.AnalyzeDiagnostics(output, step.DiagnosticAnalysis)
		if err != nil {
			return err
		}
		r.bindReport(fr, res, report)
		if report.Failed {
			res.Status = StatusFailed
			return nil
		}
	}

	res.Status = StatusPassed
	return nil
}

func (r *Runner) runLogAnalysis(fr *frame, step *schema.Step, res *StepResult) error {
	text, err := r.logs().ReadLog(fr.resolvePath(step.LogAnalysisPath))
	if err != nil {
		return err
	}
	report, err := analysis.AnalyzeDiagnostics(text, step.DiagnosticAnalysis)
	if err != nil {
		return err
	}
	r.bindReport(fr, res, report)
	if report.Failed {
		res.Status = StatusFailed
	} else {
		res.Status = StatusPassed
	}
	return nil
}

func (r *Runner) runInvoke(ctx context.Context, fr *frame, step *schema.Step, res *StepResult) error {
	if fr.stack.Depth() >= r.maxDepth() {
		return fmt.Errorf("scenario nesting exceeds %d levels", r.maxDepth())
	}
	path := fr.resolvePath(step.ScenarioPath)
	doc, verrs := r.Cache.Load(path)
	if schema.HasBlocking(verrs) {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return fmt.Errorf("invoked scenario %s is invalid: %s", path, strings.Join(msgs, "; "))
	}
	nested, err := r.Run(ctx, doc, path, fr.ctx, fr.stack)
	if err != nil {
		return err
	}
	res.Nested = nested
	if nested.Status == StatusFailed {
		res.Status = StatusFailed
	} else {
		res.Status = StatusPassed
	}
	return nil
}

func (r *Runner) bindParams(fr *frame, res *StepResult, params map[string]string) {
	if len(params) == 0 {
		return
	}
	if res.Params == nil {
		res.Params = make(map[string]string)
	}
	for name, raw := range params {
		fr.ctx.SetString(name, raw)
		res.Params[name] = raw
	}
}

func (r *Runner) bindReport(fr *frame, res *StepResult, report *analysis.DiagnosticReport) {
	res.Codes = append(res.Codes, report.Codes...)
	r.bindParams(fr, res, report.Parameters)
}
