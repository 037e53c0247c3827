// Package presence tracks device liveness from heartbeat and poll
// activity. A device is online when it has contacted the server within
// the last OnlineThreshold; the comparison is strict, so a device seen
// exactly at the threshold is offline.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
)

// OnlineThreshold is the maximum silence before a device counts as offline.
const OnlineThreshold = 60 * time.Second

// Logger defines the logging interface used by the Tracker.
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

// entry records the last contact from a device and its owner.
type entry struct {
	userID   string
	lastSeen time.Time
}

// Tracker keeps an in-memory map of device last-seen timestamps.
// All methods are thread-safe.
type Tracker struct {
	mu       sync.RWMutex
	devices  map[string]entry
	auditLog *audit.Log
	logger   Logger
	now      func() time.Time
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		devices: make(map[string]entry),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetAuditLog attaches an audit log for recording cross-user target
// fallbacks. Optional; when unset, fallbacks are only logged.
func (t *Tracker) SetAuditLog(l *audit.Log) {
	t.auditLog = l
}

// SetClock overrides the tracker's time source. Test helper.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Seed records a device's persisted last-seen time without updating it.
// Called at startup so presence survives a server restart.
func (t *Tracker) Seed(deviceID, userID string, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Never move an existing entry backwards.
	if cur, ok := t.devices[deviceID]; ok && cur.lastSeen.After(lastSeen) {
		return
	}
	t.devices[deviceID] = entry{userID: userID, lastSeen: lastSeen}
}

// Touch records that a device has just contacted the server.
func (t *Tracker) Touch(deviceID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[deviceID] = entry{userID: userID, lastSeen: t.now()}
}

// Remove forgets a device, for example after it is unpaired.
func (t *Tracker) Remove(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, deviceID)
}

// Online reports whether a device has been seen within OnlineThreshold.
// Unknown devices are offline.
func (t *Tracker) Online(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.devices[deviceID]
	if !ok {
		return false
	}
	return t.now().Sub(e.lastSeen) < OnlineThreshold
}

// LastSeen returns a device's last contact time. The second return is
// false for unknown devices.
func (t *Tracker) LastSeen(deviceID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.devices[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// OnlineForUser returns the IDs of every online device owned by the user.
func (t *Tracker) OnlineForUser(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var online []string
	for id, e := range t.devices {
		if e.userID == userID && now.Sub(e.lastSeen) < OnlineThreshold {
			online = append(online, id)
		}
	}
	return online
}

// FirstOnlineForUser selects a target device for a command that did not
// name one. It prefers the user's own online devices; if the user has
// none, it falls back to any online device and logs the cross-user
// selection so the fallback is visible in the audit trail.
func (t *Tracker) FirstOnlineForUser(userID string) (string, bool) {
	t.mu.RLock()
	now := t.now()
	for id, e := range t.devices {
		if e.userID == userID && now.Sub(e.lastSeen) < OnlineThreshold {
			t.mu.RUnlock()
			return id, true
		}
	}

	var fallbackID, fallbackOwner string
	for id, e := range t.devices {
		if now.Sub(e.lastSeen) < OnlineThreshold {
			fallbackID, fallbackOwner = id, e.userID
			break
		}
	}
	t.mu.RUnlock()

	if fallbackID == "" {
		return "", false
	}

	t.logger.Warn("no online device for user, falling back to another user's device",
		"user_id", userID, "device_id", fallbackID, "device_owner", fallbackOwner)
	if t.auditLog != nil {
		t.auditLog.Record(context.Background(), audit.Entry{
			Action:   audit.ActionTrustFallback,
			UserID:   userID,
			DeviceID: fallbackID,
			Status:   audit.StatusOK,
			Detail:   "command targeted a device owned by " + fallbackOwner,
		})
	}
	return fallbackID, true
}

// Count returns the number of tracked devices.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.devices)
}
