package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/baseboardio/sledge/pkg/connection"
	"github.com/baseboardio/sledge/pkg/schema"
	"github.com/google/uuid"
)

// StatusRunning is the provisional status of a background step between
// launch and scenario-end finalization.
const StatusRunning = "running"

// backgroundTask is a command step executing concurrently with later steps.
// Its result is finalized once all foreground steps have completed.
type backgroundTask struct {
	id   string
	step *schema.Step
	res  *StepResult
	done chan struct{}
	out  *connection.Output
	err  error
}

// startBackground launches the command in a goroutine and records a
// provisional result. The step's duration bound is applied here rather than
// by the step executor so the timer lives as long as the task does.
func (r *Runner) startBackground(ctx context.Context, fr *frame, step *schema.Step, res *StepResult, conn *connection.Conn, cmd string) {
	task := &backgroundTask{
		id:   uuid.NewString(),
		step: step,
		res:  res,
		done: make(chan struct{}),
	}
	res.Background = true
	res.Status = StatusRunning
	fr.tasks = append(fr.tasks, task)
	r.trace(TraceEvent{Event: "background_start", TestID: fr.res.TestID, StepID: step.StepID, Detail: task.id})

	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if step.Duration > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Duration)*time.Second)
	}
	go func() {
		defer close(task.done)
		defer cancel()
		task.out, task.err = conn.Execute(execCtx, cmd, connection.ExecOptions{UseSudo: step.UseSudo})
	}()
}

// finalizeBackground waits for every launched task and applies the same
// validation and analysis a foreground command step gets.
func (r *Runner) finalizeBackground(ctx context.Context, fr *frame) {
	for _, task := range fr.tasks {
		select {
		case <-task.done:
		case <-ctx.Done():
			task.res.Status = StatusError
			task.res.ErrorKind = ErrKindCancelled
			task.res.Error = ctx.Err().Error()
			r.trace(TraceEvent{Event: "background_done", TestID: fr.res.TestID, StepID: task.res.StepID, Status: task.res.Status})
			continue
		}
		task.res.Status = ""
		if task.out != nil {
			task.res.Output = task.out.Stdout
			task.res.ExitCode = task.out.ExitCode
		}
		if errors.Is(task.err, context.DeadlineExceeded) {
			task.res.Status = StatusError
			task.res.ErrorKind = ErrKindTimeout
			task.res.Error = task.err.Error()
		} else if task.err != nil {
			r.classify(ctx, ctx, task.res, task.err)
		} else if err := r.assess(fr, task.step, task.res, task.out.Stdout); err != nil {
			r.classify(ctx, ctx, task.res, err)
		}
		r.trace(TraceEvent{Event: "background_done", TestID: fr.res.TestID, StepID: task.res.StepID, Status: task.res.Status})
	}
}
