package transport

import (
	"sync"
	"time"
)

// DefaultQueueSize is the per-device offline queue capacity used when
// the configuration does not set one.
const DefaultQueueSize = 128

// Task is the wire-level unit of work handed to a device. The
// dispatcher tracks richer state; the hub only needs what goes over
// the wire.
type Task struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is a live connection to a device. Implementations must be
// safe for concurrent Send calls.
type Session interface {
	// Send pushes a task down the connection.
	Send(task Task) error

	// Close tears down the connection. Idempotent.
	Close() error
}

// Delivery reports how a task reached (or will reach) its device.
type Delivery string

const (
	// DeliveryPush means the task went down a live session.
	DeliveryPush Delivery = "push"

	// DeliveryQueued means the task waits in the offline queue.
	DeliveryQueued Delivery = "queued"
)

// Logger defines the logging interface used by the Hub.
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

// Hub owns the session table and the per-device offline queues.
// All public methods are thread-safe.
type Hub struct {
	mu        sync.Mutex
	sessions  map[string]Session
	queues    map[string][]Task
	queueSize int
	logger    Logger
}

// NewHub creates a hub with the given per-device queue capacity.
// A non-positive size falls back to DefaultQueueSize.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		sessions:  make(map[string]Session),
		queues:    make(map[string][]Task),
		queueSize: queueSize,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Register installs a session as the device's live connection and
// flushes any queued tasks to it in FIFO order. An existing session
// for the same device is closed first; the switchover happens under
// the lock so no task can be routed to the dying connection.
func (h *Hub) Register(deviceID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[deviceID]; ok {
		old.Close()
		h.logger.Info("replaced existing session", "device_id", deviceID)
	}
	h.sessions[deviceID] = s

	queued := h.queues[deviceID]
	if len(queued) == 0 {
		return
	}
	delete(h.queues, deviceID)

	for i, task := range queued {
		if err := s.Send(task); err != nil {
			// Session died mid-flush. Put the undelivered tail back
			// and drop the session.
			h.queues[deviceID] = queued[i:]
			if h.sessions[deviceID] == s {
				delete(h.sessions, deviceID)
			}
			s.Close()
			h.logger.Warn("session failed during queue flush",
				"device_id", deviceID, "requeued", len(queued)-i, "error", err)
			return
		}
	}
	h.logger.Debug("flushed queued tasks", "device_id", deviceID, "count", len(queued))
}

// Unregister removes a session if it is still the device's current one.
// A session replaced by a newer connection is left alone.
func (h *Hub) Unregister(deviceID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.sessions[deviceID]; ok && cur == s {
		delete(h.sessions, deviceID)
		h.logger.Debug("session unregistered", "device_id", deviceID)
	}
}

// Deliver routes a task to a device: pushed down the live session when
// one exists, queued otherwise. A session that errors on Send is
// dropped and the task is queued instead, so the task is never lost to
// a half-dead connection. Returns ErrQueueFull when the device is
// offline and its queue is at capacity.
func (h *Hub) Deliver(deviceID string, task Task) (Delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[deviceID]; ok {
		if err := s.Send(task); err == nil {
			return DeliveryPush, nil
		}
		delete(h.sessions, deviceID)
		s.Close()
		h.logger.Warn("push failed, queueing task", "device_id", deviceID, "task_id", task.ID)
	}

	if len(h.queues[deviceID]) >= h.queueSize {
		return "", ErrQueueFull
	}
	h.queues[deviceID] = append(h.queues[deviceID], task)
	return DeliveryQueued, nil
}

// Poll atomically drains and returns the device's queued tasks in FIFO
// order. A second poll (or a concurrent one) gets nothing; each task is
// handed over exactly once.
func (h *Hub) Poll(deviceID string) []Task {
	h.mu.Lock()
	defer h.mu.Unlock()

	queued := h.queues[deviceID]
	if len(queued) == 0 {
		return nil
	}
	delete(h.queues, deviceID)
	return queued
}

// PollOne atomically removes and returns the oldest queued task for
// the device. The second return is false when nothing is pending.
func (h *Hub) PollOne(deviceID string) (Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	queued := h.queues[deviceID]
	if len(queued) == 0 {
		return Task{}, false
	}
	task := queued[0]
	if len(queued) == 1 {
		delete(h.queues, deviceID)
	} else {
		h.queues[deviceID] = queued[1:]
	}
	return task, true
}

// Connected reports whether the device has a live session.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[deviceID]
	return ok
}

// QueueLen returns the number of tasks queued for a device.
func (h *Hub) QueueLen(deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues[deviceID])
}

// CloseAll tears down every live session. Called at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for deviceID, s := range h.sessions {
		s.Close()
		delete(h.sessions, deviceID)
	}
}
