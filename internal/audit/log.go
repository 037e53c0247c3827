package audit

import (
	"context"
	"sync"
	"time"
)

// RingCapacity is the number of recent entries kept in memory.
const RingCapacity = 1000

// Logger defines the logging interface used by the Log.
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

// Log is the append-only audit trail. Recent entries live in a fixed
// ring buffer; every entry is also mirrored to the repository. Record
// never returns an error: audit must not fail the operation it records.
type Log struct {
	mu       sync.Mutex
	ring     []Entry
	head     int // next write position
	size     int // entries currently in the ring
	capacity int
	repo     Repository
	logger   Logger
	now      func() time.Time
}

// NewLog creates an audit log mirroring to the given repository.
// A nil repository keeps the trail in memory only.
func NewLog(repo Repository) *Log {
	return &Log{
		ring:     make([]Entry, RingCapacity),
		capacity: RingCapacity,
		repo:     repo,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for mirror write failures.
func (l *Log) SetLogger(logger Logger) {
	l.logger = logger
}

// Record appends an entry to the ring and mirrors it to the repository.
// The oldest entry is overwritten once the ring is full.
func (l *Log) Record(ctx context.Context, entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}

	if l.repo != nil {
		if err := l.repo.Create(ctx, &entry); err != nil {
			l.logger.Error("audit mirror write failed", "action", entry.Action, "error", err)
		}
	}

	l.mu.Lock()
	l.ring[l.head] = entry
	l.head = (l.head + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
	l.mu.Unlock()
}

// Recent returns up to n entries from the ring, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}

	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.capacity) % l.capacity
		entries = append(entries, l.ring[idx])
	}
	return entries
}

// Size returns the number of entries currently in the ring.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// List queries the durable mirror. Falls back to the ring when no
// repository is configured.
func (l *Log) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if l.repo != nil {
		return l.repo.List(ctx, filter)
	}

	entries := l.Recent(filter.Limit)
	return &ListResult{
		Entries: entries,
		Total:   l.Size(),
		Limit:   filter.Limit,
		Offset:  0,
	}, nil
}
