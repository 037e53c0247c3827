package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rmcgann/agentlink-core/internal/dispatch"
)

// defaultStepTimeout bounds how long the router waits for each step's
// result before halting the run with an unknown outcome.
const defaultStepTimeout = 30 * time.Second

// TaskDispatcher is the interface the router needs from the dispatch
// package: fire a command at a device and wait for its status.
type TaskDispatcher interface {
	DispatchCommand(ctx context.Context, deviceID, userID, command string, params map[string]any) (string, error)
	AwaitStatus(ctx context.Context, taskID string, timeout time.Duration) (string, error)
}

// DeviceSelector picks a target device for goals that name none.
type DeviceSelector interface {
	FirstOnlineForUser(userID string) (string, bool)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Router executes goals step by step against a single device.
type Router struct {
	dispatcher  TaskDispatcher
	selector    DeviceSelector
	stepTimeout time.Duration
	logger      Logger
}

// NewRouter creates a router. The selector may be nil when callers
// always provide a device ID.
func NewRouter(dispatcher TaskDispatcher, selector DeviceSelector) *Router {
	return &Router{
		dispatcher:  dispatcher,
		selector:    selector,
		stepTimeout: defaultStepTimeout,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetStepTimeout overrides the per-step result timeout.
func (r *Router) SetStepTimeout(d time.Duration) {
	if d > 0 {
		r.stepTimeout = d
	}
}

// Run executes a goal's steps strictly sequentially and halts on the
// first step whose dispatch or result fails. No step is ever retried
// by the router; a halted run reports the three recovery options and
// leaves the decision with the caller. A step whose result times out
// also halts the run, but with a distinct timeout status, because the
// outcome is unknown rather than failed.
func (r *Router) Run(ctx context.Context, goal Goal) (*RunReport, error) {
	if len(goal.Steps) == 0 {
		return nil, ErrNoSteps
	}

	deviceID := goal.DeviceID
	if deviceID == "" {
		if r.selector == nil {
			return nil, ErrNoDevice
		}
		selected, ok := r.selector.FirstOnlineForUser(goal.UserID)
		if !ok {
			return nil, ErrNoDevice
		}
		deviceID = selected
	}

	report := &RunReport{
		GoalText:   goal.Text,
		DeviceID:   deviceID,
		TotalSteps: len(goal.Steps),
		FailedStep: -1,
		Confidence: goal.Confidence,
	}

	r.logger.Info("automation run started",
		"goal", goal.Text, "device_id", deviceID, "steps", len(goal.Steps))

	for i, step := range goal.Steps {
		command, params, err := Normalize(step)
		if err != nil {
			return r.halt(report, goal, i, step.Action, StatusFailed, err.Error()), nil
		}

		taskID, err := r.dispatcher.DispatchCommand(ctx, deviceID, goal.UserID, command, params)
		if err != nil {
			return r.halt(report, goal, i, command, StatusFailed, "dispatch: "+err.Error()), nil
		}

		status, err := r.dispatcher.AwaitStatus(ctx, taskID, r.stepTimeout)
		if err != nil {
			if errors.Is(err, dispatch.ErrAwaitTimeout) {
				// Unknown outcome, not a failure. Halt without the
				// confidence penalty but still hand back recovery.
				return r.halt(report, goal, i, command, StatusTimeout,
					fmt.Sprintf("no result for task %s within %s", taskID, r.stepTimeout)), nil
			}
			return nil, err
		}
		if status != dispatch.StatusSuccess {
			return r.halt(report, goal, i, command, StatusFailed, "step reported "+status), nil
		}

		report.CompletedSteps++
		r.logger.Debug("automation step completed",
			"goal", goal.Text, "step", i, "command", command, "task_id", taskID)
	}

	report.Status = StatusCompleted
	r.logger.Info("automation run completed", "goal", goal.Text, "device_id", deviceID)
	return report, nil
}

// halt finalises a report for a run stopped at step idx. A failed run
// downgrades the goal's confidence by the fixed penalty, floored at
// zero; a timed-out run keeps its confidence since nothing is known
// to have gone wrong.
func (r *Router) halt(report *RunReport, goal Goal, idx int, command, status, detail string) *RunReport {
	report.Status = status
	report.FailedStep = idx
	report.FailedCommand = command
	report.Detail = detail
	report.Recovery = append([]string(nil), RecoveryOptions...)

	if status == StatusFailed {
		report.Confidence = goal.Confidence - confidencePenalty
		if report.Confidence < 0 {
			report.Confidence = 0
		}
	}

	report.Fallback = goal.Fallback
	if report.Fallback == "" {
		report.Fallback = fmt.Sprintf("I couldn't finish %q: step %d of %d (%s) did not succeed.",
			goal.Text, idx+1, report.TotalSteps, command)
	}

	r.logger.Warn("automation run halted",
		"goal", goal.Text, "step", idx, "command", command, "status", status, "detail", detail)
	return report
}
