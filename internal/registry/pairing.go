package registry

import (
	"context"
	"sync"
	"time"
)

// codeStore holds live pairing codes in memory. Codes are single-use:
// consume marks a code used atomically under the lock, so concurrent
// registrations with the same code cannot both succeed. Used codes stay
// in the store until the TTL sweep removes them, keeping a redeemed
// code distinguishable from one that never existed.
type codeStore struct {
	mu    sync.Mutex
	codes map[string]*PairingCode
	now   func() time.Time
}

func newCodeStore(now func() time.Time) *codeStore {
	if now == nil {
		now = time.Now
	}
	return &codeStore{
		codes: make(map[string]*PairingCode),
		now:   now,
	}
}

// issue creates and stores a new pairing code for the user.
func (s *codeStore) issue(userID string) (*PairingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Retry on the (unlikely) collision with a live code.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := generatePairingCode()
		if err != nil {
			return nil, err
		}
		if _, exists := s.codes[code]; exists {
			continue
		}
		pc := &PairingCode{
			Code:      code,
			UserID:    userID,
			ExpiresAt: s.now().Add(PairingCodeTTL),
		}
		s.codes[code] = pc
		return pc, nil
	}
	return nil, ErrCodeGeneration
}

// consume atomically redeems a pairing code, returning the user it was
// issued to. A consumed code stays in the store marked used so a second
// redemption returns ErrCodeUsed rather than ErrCodeNotFound.
func (s *codeStore) consume(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.codes[code]
	if !ok {
		return "", ErrCodeNotFound
	}
	if pc.Used {
		return "", ErrCodeUsed
	}
	if s.now().After(pc.ExpiresAt) {
		delete(s.codes, code)
		return "", ErrCodeExpired
	}
	pc.Used = true
	return pc.UserID, nil
}

// sweep removes expired codes. Called periodically by the cleanup loop.
func (s *codeStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for code, pc := range s.codes {
		if now.After(pc.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed
}

// count returns the number of live codes. Test and metrics helper.
func (s *codeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// StartCodeCleanup runs a background sweep of expired pairing codes,
// in memory and in the durable mirror, until the context is cancelled.
// Callers run it on its own goroutine.
func (r *Registry) StartCodeCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.codes.sweep(); removed > 0 {
				r.logger.Debug("expired pairing codes removed", "count", removed)
			}
			if _, err := r.repo.DeleteExpiredPairingCodes(ctx, r.now()); err != nil {
				r.logger.Debug("durable pairing code sweep failed", "error", err)
			}
		}
	}
}
