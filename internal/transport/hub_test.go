package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockSession records sent tasks and can be made to fail.
type mockSession struct {
	mu      sync.Mutex
	sent    []Task
	closed  bool
	sendErr error
	// failAfter makes Send fail once this many tasks have been accepted.
	failAfter int
}

func newMockSession() *mockSession {
	return &mockSession{failAfter: -1}
}

func (m *mockSession) Send(task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	if m.failAfter >= 0 && len(m.sent) >= m.failAfter {
		return ErrSessionClosed
	}
	m.sent = append(m.sent, task)
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSession) sentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.sent))
	for i, t := range m.sent {
		ids[i] = t.ID
	}
	return ids
}

func (m *mockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func testTask(id string) Task {
	return Task{ID: id, Command: "open_app", Params: map[string]any{"app": "code"}, CreatedAt: time.Now().UTC()}
}

// ===== Delivery =====

func TestHub_DeliverPush(t *testing.T) {
	hub := NewHub(8)
	s := newMockSession()
	hub.Register("dev-1", s)

	delivery, err := hub.Deliver("dev-1", testTask("task-1"))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if delivery != DeliveryPush {
		t.Errorf("Deliver() = %q, want %q", delivery, DeliveryPush)
	}
	if got := s.sentIDs(); len(got) != 1 || got[0] != "task-1" {
		t.Errorf("session received %v, want [task-1]", got)
	}
	if hub.QueueLen("dev-1") != 0 {
		t.Errorf("QueueLen() = %d, want 0 after push", hub.QueueLen("dev-1"))
	}
}

func TestHub_DeliverQueuesWhenOffline(t *testing.T) {
	hub := NewHub(8)

	delivery, err := hub.Deliver("dev-1", testTask("task-1"))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if delivery != DeliveryQueued {
		t.Errorf("Deliver() = %q, want %q", delivery, DeliveryQueued)
	}
	if hub.QueueLen("dev-1") != 1 {
		t.Errorf("QueueLen() = %d, want 1", hub.QueueLen("dev-1"))
	}
}

func TestHub_DeliverQueueFull(t *testing.T) {
	hub := NewHub(2)

	for i := 0; i < 2; i++ {
		if _, err := hub.Deliver("dev-1", testTask(fmt.Sprintf("task-%d", i))); err != nil {
			t.Fatalf("Deliver(%d) error = %v", i, err)
		}
	}

	_, err := hub.Deliver("dev-1", testTask("task-overflow"))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Deliver() error = %v, want ErrQueueFull", err)
	}
	if hub.QueueLen("dev-1") != 2 {
		t.Errorf("QueueLen() = %d, want 2 after rejected overflow", hub.QueueLen("dev-1"))
	}
}

func TestHub_DeliverFallsBackOnDeadSession(t *testing.T) {
	hub := NewHub(8)
	s := newMockSession()
	s.sendErr = ErrSessionClosed
	hub.Register("dev-1", s)

	delivery, err := hub.Deliver("dev-1", testTask("task-1"))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if delivery != DeliveryQueued {
		t.Errorf("Deliver() = %q, want %q after send failure", delivery, DeliveryQueued)
	}
	if hub.Connected("dev-1") {
		t.Error("Connected() = true, want false after failed push")
	}
	if !s.isClosed() {
		t.Error("failed session was not closed")
	}
	if hub.QueueLen("dev-1") != 1 {
		t.Errorf("QueueLen() = %d, want 1", hub.QueueLen("dev-1"))
	}
}

// ===== Polling =====

func TestHub_PollDrainsInOrder(t *testing.T) {
	hub := NewHub(8)

	for i := 0; i < 3; i++ {
		hub.Deliver("dev-1", testTask(fmt.Sprintf("task-%d", i)))
	}

	tasks := hub.Poll("dev-1")
	if len(tasks) != 3 {
		t.Fatalf("Poll() returned %d tasks, want 3", len(tasks))
	}
	for i, task := range tasks {
		want := fmt.Sprintf("task-%d", i)
		if task.ID != want {
			t.Errorf("tasks[%d].ID = %q, want %q", i, task.ID, want)
		}
	}

	if again := hub.Poll("dev-1"); again != nil {
		t.Errorf("second Poll() = %v, want nil", again)
	}
}

func TestHub_PollEmptyQueue(t *testing.T) {
	hub := NewHub(8)
	if tasks := hub.Poll("dev-unknown"); tasks != nil {
		t.Errorf("Poll() = %v, want nil for unknown device", tasks)
	}
}

func TestHub_PollOne(t *testing.T) {
	hub := NewHub(8)

	hub.Deliver("dev-1", testTask("task-0"))
	hub.Deliver("dev-1", testTask("task-1"))

	task, ok := hub.PollOne("dev-1")
	if !ok {
		t.Fatal("PollOne() ok = false, want true")
	}
	if task.ID != "task-0" {
		t.Errorf("PollOne() = %q, want oldest task-0", task.ID)
	}
	if hub.QueueLen("dev-1") != 1 {
		t.Errorf("QueueLen() = %d, want 1 after PollOne", hub.QueueLen("dev-1"))
	}

	task, ok = hub.PollOne("dev-1")
	if !ok || task.ID != "task-1" {
		t.Errorf("second PollOne() = %q ok=%v, want task-1", task.ID, ok)
	}

	if _, ok := hub.PollOne("dev-1"); ok {
		t.Error("PollOne() ok = true on empty queue, want false")
	}
}

func TestHub_PollConcurrentNoDoubleDelivery(t *testing.T) {
	hub := NewHub(64)

	const total = 50
	for i := 0; i < total; i++ {
		hub.Deliver("dev-1", testTask(fmt.Sprintf("task-%d", i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, task := range hub.Poll("dev-1") {
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("polled %d distinct tasks, want %d", len(seen), total)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("task %s delivered %d times, want 1", id, count)
		}
	}
}

// ===== Sessions =====

func TestHub_RegisterFlushesQueue(t *testing.T) {
	hub := NewHub(8)

	hub.Deliver("dev-1", testTask("task-0"))
	hub.Deliver("dev-1", testTask("task-1"))

	s := newMockSession()
	hub.Register("dev-1", s)

	got := s.sentIDs()
	if len(got) != 2 || got[0] != "task-0" || got[1] != "task-1" {
		t.Errorf("flushed tasks = %v, want [task-0 task-1]", got)
	}
	if hub.QueueLen("dev-1") != 0 {
		t.Errorf("QueueLen() = %d, want 0 after flush", hub.QueueLen("dev-1"))
	}
}

func TestHub_RegisterFlushFailureRequeuesTail(t *testing.T) {
	hub := NewHub(8)

	for i := 0; i < 4; i++ {
		hub.Deliver("dev-1", testTask(fmt.Sprintf("task-%d", i)))
	}

	s := newMockSession()
	s.failAfter = 2 // accept two tasks, then die
	hub.Register("dev-1", s)

	if got := len(s.sentIDs()); got != 2 {
		t.Errorf("session accepted %d tasks, want 2", got)
	}
	if hub.QueueLen("dev-1") != 2 {
		t.Errorf("QueueLen() = %d, want 2 requeued", hub.QueueLen("dev-1"))
	}
	if hub.Connected("dev-1") {
		t.Error("Connected() = true, want false after flush failure")
	}

	// The undelivered tail keeps its order for the next connection.
	s2 := newMockSession()
	hub.Register("dev-1", s2)
	got := s2.sentIDs()
	if len(got) != 2 || got[0] != "task-2" || got[1] != "task-3" {
		t.Errorf("requeued tasks = %v, want [task-2 task-3]", got)
	}
}

func TestHub_RegisterReplacesOldSession(t *testing.T) {
	hub := NewHub(8)

	old := newMockSession()
	hub.Register("dev-1", old)

	replacement := newMockSession()
	hub.Register("dev-1", replacement)

	if !old.isClosed() {
		t.Error("old session was not closed on replacement")
	}

	hub.Deliver("dev-1", testTask("task-1"))
	if got := replacement.sentIDs(); len(got) != 1 {
		t.Errorf("replacement received %v, want one task", got)
	}
	if got := old.sentIDs(); len(got) != 0 {
		t.Errorf("old session received %v, want none", got)
	}
}

func TestHub_UnregisterOnlyRemovesCurrent(t *testing.T) {
	hub := NewHub(8)

	old := newMockSession()
	hub.Register("dev-1", old)

	replacement := newMockSession()
	hub.Register("dev-1", replacement)

	// The old session's deferred unregister must not evict the new one.
	hub.Unregister("dev-1", old)
	if !hub.Connected("dev-1") {
		t.Error("Connected() = false, replaced session's unregister evicted the live one")
	}

	hub.Unregister("dev-1", replacement)
	if hub.Connected("dev-1") {
		t.Error("Connected() = true after unregistering current session")
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(8)

	s1 := newMockSession()
	s2 := newMockSession()
	hub.Register("dev-1", s1)
	hub.Register("dev-2", s2)

	hub.CloseAll()

	if !s1.isClosed() || !s2.isClosed() {
		t.Error("CloseAll() did not close every session")
	}
	if hub.Connected("dev-1") || hub.Connected("dev-2") {
		t.Error("Connected() = true after CloseAll()")
	}
}
