// Package transport routes tasks to devices over live sessions with an
// offline fallback queue.
//
// The Hub keeps at most one live session per device. A new connection
// replaces and closes the previous one, so a reconnecting agent never
// races its stale socket. Tasks for offline devices land in a bounded
// per-device FIFO queue and are flushed in order when the device
// connects or polls. A task is handed over at most once: either pushed
// down the live session or drained by a poll, never both.
package transport
