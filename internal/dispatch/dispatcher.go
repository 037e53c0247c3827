package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmcgann/agentlink-core/internal/audit"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/influxdb"
	"github.com/rmcgann/agentlink-core/internal/infrastructure/mqtt"
	"github.com/rmcgann/agentlink-core/internal/transport"
)

// pollInterval is how often AwaitResult checks for a reported result.
const pollInterval = 500 * time.Millisecond

// retentionPeriod is how long completed tasks and results are kept
// before the retention sweep removes them.
const retentionPeriod = time.Hour

// Task statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Task is a command dispatched to a device, with ownership and status.
type Task struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	UserID    string         `json:"user_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Status    string         `json:"status"`
	Delivery  string         `json:"delivery"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskResult is a device's reported outcome for a task.
type TaskResult struct {
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Logger defines the logging interface used by the Dispatcher.
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

// Dispatcher creates tasks, routes them through the hub and collects
// results. Events and telemetry sinks are optional; a nil client means
// that sink is disabled.
type Dispatcher struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	results map[string]*TaskResult

	hub       *transport.Hub
	auditLog  *audit.Log
	events    *mqtt.Client
	telemetry *influxdb.Client
	logger    Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher routing through the given hub.
func NewDispatcher(hub *transport.Hub, auditLog *audit.Log) *Dispatcher {
	return &Dispatcher{
		tasks:    make(map[string]*Task),
		results:  make(map[string]*TaskResult),
		hub:      hub,
		auditLog: auditLog,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetEventClient attaches an MQTT client for task lifecycle events.
func (d *Dispatcher) SetEventClient(c *mqtt.Client) {
	d.events = c
}

// SetTelemetryClient attaches an InfluxDB client for dispatch metrics.
func (d *Dispatcher) SetTelemetryClient(c *influxdb.Client) {
	d.telemetry = c
}

// SetClock overrides the dispatcher's time source. Test helper.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch creates a task for a device and routes it through the hub.
// The returned delivery says whether the task was pushed to a live
// session or queued for the device's next poll.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, userID, command string, params map[string]any) (*Task, error) {
	if command == "" {
		return nil, ErrInvalidCommand
	}

	start := d.now()
	task := &Task{
		ID:        "task-" + uuid.NewString()[:8],
		DeviceID:  deviceID,
		UserID:    userID,
		Command:   command,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: start.UTC(),
	}

	delivery, err := d.hub.Deliver(deviceID, transport.Task{
		ID:        task.ID,
		Command:   task.Command,
		Params:    task.Params,
		CreatedAt: task.CreatedAt,
	})
	if err != nil {
		d.auditLog.Record(ctx, audit.Entry{
			Action:   audit.ActionDispatch,
			UserID:   userID,
			DeviceID: deviceID,
			Command:  command,
			Status:   audit.StatusFailed,
			Detail:   err.Error(),
		})
		return nil, err
	}
	task.Delivery = string(delivery)

	// Store an independent copy. ReportResult mutates the stored task,
	// so the returned one stays caller-owned.
	stored := *task
	d.mu.Lock()
	d.tasks[task.ID] = &stored
	d.mu.Unlock()

	d.auditLog.Record(ctx, audit.Entry{
		Action:   audit.ActionDispatch,
		UserID:   userID,
		DeviceID: deviceID,
		Command:  command,
		Status:   audit.StatusOK,
		Detail:   "delivery=" + string(delivery),
	})
	d.publishTaskEvent(deviceID, task.ID, command, StatusPending, "dispatched")
	if d.telemetry != nil {
		d.telemetry.WriteTaskDispatch(deviceID, command, string(delivery), d.now().Sub(start))
	}

	d.logger.Info("task dispatched",
		"task_id", task.ID, "device_id", deviceID, "command", command, "delivery", delivery)
	return task, nil
}

// DispatchCommand dispatches a task and returns just its ID. Callers
// that only correlate by ID (the automation router) use this instead
// of Dispatch.
func (d *Dispatcher) DispatchCommand(ctx context.Context, deviceID, userID, command string, params map[string]any) (string, error) {
	task, err := d.Dispatch(ctx, deviceID, userID, command, params)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// ReportResult accepts a device's outcome for a task. The reporting
// device must be the one the task was dispatched to. The first report
// wins; later reports for the same task are ignored.
func (d *Dispatcher) ReportResult(ctx context.Context, deviceID string, result TaskResult) error {
	d.mu.Lock()
	task, ok := d.tasks[result.TaskID]
	if !ok {
		d.mu.Unlock()
		return ErrUnknownTask
	}
	if task.DeviceID != deviceID {
		d.mu.Unlock()
		d.auditLog.Record(ctx, audit.Entry{
			Action:   audit.ActionResult,
			DeviceID: deviceID,
			Command:  task.Command,
			Status:   audit.StatusDenied,
			Detail:   "task " + result.TaskID + " belongs to " + task.DeviceID,
		})
		return ErrNotTaskOwner
	}
	if _, reported := d.results[result.TaskID]; reported {
		d.mu.Unlock()
		d.logger.Debug("duplicate result ignored", "task_id", result.TaskID, "device_id", deviceID)
		return nil
	}

	if result.ReportedAt.IsZero() {
		result.ReportedAt = d.now().UTC()
	}
	if result.Status == "" {
		result.Status = StatusFailure
	}
	d.results[result.TaskID] = &result
	task.Status = result.Status
	createdAt := task.CreatedAt
	command := task.Command
	userID := task.UserID
	d.mu.Unlock()

	d.auditLog.Record(ctx, audit.Entry{
		Action:   audit.ActionResult,
		UserID:   userID,
		DeviceID: deviceID,
		Command:  command,
		Status:   result.Status,
		Detail:   result.Error,
	})
	d.publishTaskEvent(deviceID, result.TaskID, command, result.Status, "completed")
	if d.telemetry != nil {
		d.telemetry.WriteTaskResult(deviceID, command, result.Status, result.ReportedAt.Sub(createdAt))
	}

	d.logger.Info("task result reported",
		"task_id", result.TaskID, "device_id", deviceID, "status", result.Status)
	return nil
}

// Result returns the reported result for a task, if any.
func (d *Dispatcher) Result(taskID string) (*TaskResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result, ok := d.results[taskID]
	if !ok {
		return nil, false
	}
	copied := *result
	return &copied, true
}

// Task returns a dispatched task by ID.
func (d *Dispatcher) Task(taskID string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[taskID]
	if !ok {
		return nil, false
	}
	copied := *task
	return &copied, true
}

// AwaitResult blocks until the task's result is reported, the timeout
// elapses or the context is cancelled. A timeout returns
// ErrAwaitTimeout: the outcome is unknown, the device may still be
// working, and the caller must not treat it as a failure.
func (d *Dispatcher) AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (*TaskResult, error) {
	if _, ok := d.Task(taskID); !ok {
		return nil, ErrUnknownTask
	}
	if result, ok := d.Result(taskID); ok {
		return result, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrAwaitTimeout
		case <-ticker.C:
			if result, ok := d.Result(taskID); ok {
				return result, nil
			}
		}
	}
}

// AwaitStatus waits for a task result and returns just its status.
// Timeout and cancellation errors pass through from AwaitResult.
func (d *Dispatcher) AwaitStatus(ctx context.Context, taskID string, timeout time.Duration) (string, error) {
	result, err := d.AwaitResult(ctx, taskID, timeout)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

// publishTaskEvent emits a task lifecycle event when an MQTT client is
// attached. Fields arrive by value; callers snapshot them under the
// lock so the shared task is never read unlocked.
func (d *Dispatcher) publishTaskEvent(deviceID, taskID, command, status, event string) {
	if d.events == nil || !d.events.IsConnected() {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"task_id":   taskID,
		"device_id": deviceID,
		"command":   command,
		"status":    status,
	})
	if err != nil {
		return
	}
	if err := d.events.Publish(mqtt.Topics{}.TaskEvent(deviceID), payload, 0, false); err != nil {
		d.logger.Debug("task event publish failed", "task_id", taskID, "error", err)
	}
}

// StartRetention prunes completed tasks and results older than the
// retention period until the context is cancelled.
func (d *Dispatcher) StartRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.prune()
		}
	}
}

// prune removes completed tasks past the retention period.
func (d *Dispatcher) prune() {
	cutoff := d.now().Add(-retentionPeriod)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, result := range d.results {
		if result.ReportedAt.Before(cutoff) {
			delete(d.results, id)
			delete(d.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Debug("pruned completed tasks", "count", removed)
	}
}
