package registry

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry manages device pairing, registration and authentication.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-updating operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	cache    map[string]*Device // Cached devices by ID
	cacheMu  sync.RWMutex       // Protects cache
	codes    *codeStore
	trust    TrustMode
	auditLog *audit.Log
	logger   Logger
	now      func() time.Time
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository, trust TrustMode) *Registry {
	r := &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		trust:  trust,
		logger: noopLogger{},
		now:    time.Now,
	}
	r.codes = newCodeStore(func() time.Time { return r.now() })
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	if r.trust == TrustPermissive {
		r.logger.Warn("PERMISSIVE TRUST MODE ACTIVE: pairing and token checks are relaxed, do not use in production")
	}
}

// SetAuditLog sets the audit trail for trust relaxations. Optional;
// when unset, relaxations are only logged.
func (r *Registry) SetAuditLog(l *audit.Log) {
	r.auditLog = l
}

// recordTrustFallback audits a permissive-trust relaxation.
func (r *Registry) recordTrustFallback(ctx context.Context, userID, deviceID, detail string) {
	if r.auditLog == nil {
		return
	}
	r.auditLog.Record(ctx, audit.Entry{
		Action:   audit.ActionTrustFallback,
		UserID:   userID,
		DeviceID: deviceID,
		Status:   audit.StatusOK,
		Detail:   detail,
	})
}

// SetClock overrides the registry's time source. Test helper.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// TrustMode returns the active trust mode.
func (r *Registry) TrustMode() TrustMode {
	return r.trust
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GeneratePairingCode issues a new single-use pairing code for the user.
// The code expires after PairingCodeTTL. It is held in memory and
// mirrored to the repository so a restart within the TTL does not
// orphan an in-flight pairing.
func (r *Registry) GeneratePairingCode(ctx context.Context, userID string) (*PairingCode, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidDevice)
	}

	pc, err := r.codes.issue(userID)
	if err != nil {
		return nil, err
	}

	if err := r.repo.CreatePairingCode(ctx, pc); err != nil {
		r.logger.Warn("pairing code not persisted; it will not survive a restart",
			"user_id", userID, "error", err)
	}

	r.logger.Info("pairing code generated", "user_id", userID, "expires_at", pc.ExpiresAt)
	return pc, nil
}

// consumeCode redeems a pairing code, consulting the durable mirror
// when the in-memory store misses. The miss path covers codes issued
// before the last restart.
func (r *Registry) consumeCode(ctx context.Context, code string) (string, error) {
	userID, err := r.codes.consume(code)
	if err == nil {
		if markErr := r.repo.MarkPairingCodeUsed(ctx, code); markErr != nil && !errors.Is(markErr, ErrCodeNotFound) {
			r.logger.Debug("pairing code durable mark failed", "error", markErr)
		}
		return userID, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return "", err
	}

	pc, repoErr := r.repo.GetPairingCode(ctx, code)
	if repoErr != nil {
		return "", repoErr
	}
	if pc.Used {
		return "", ErrCodeUsed
	}
	if r.now().After(pc.ExpiresAt) {
		return "", ErrCodeExpired
	}
	if markErr := r.repo.MarkPairingCodeUsed(ctx, code); markErr != nil {
		return "", markErr
	}
	return pc.UserID, nil
}

// RegisterResult is returned from Register. Token is the raw device auth
// token; it is shown to the device exactly once and never stored.
type RegisterResult struct {
	Device *Device `json:"device"`
	Token  string  `json:"token"`
}

// Register redeems a pairing code and creates a device bound to the
// user who generated the code. Under permissive trust an invalid code is
// tolerated and the device is bound to a local development user; strict
// trust rejects the registration.
func (r *Registry) Register(ctx context.Context, code, name, platform string) (*RegisterResult, error) {
	if err := validateDevice(name, platform); err != nil {
		return nil, err
	}

	userID, err := r.consumeCode(ctx, code)
	if err != nil {
		if r.trust != TrustPermissive {
			return nil, err
		}
		// Permissive trust: accept without a valid code, bound to
		// the local development user. Logged loudly every time.
		r.logger.Warn("PERMISSIVE TRUST: registering device without valid pairing code",
			"code", code, "name", name, "reason", err.Error())
		r.recordTrustFallback(ctx, permissiveUserID, "", "registration accepted without valid pairing code")
		userID = permissiveUserID
	}

	token, err := GenerateAuthToken()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	device := &Device{
		ID:            GenerateDeviceID(),
		UserID:        userID,
		Name:          name,
		Platform:      platform,
		AuthTokenHash: HashToken(token),
		RegisteredAt:  now,
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "id", device.ID, "user_id", userID, "platform", platform)
	return &RegisterResult{Device: device, Token: token}, nil
}

// Authenticate verifies a device's raw auth token against the stored
// hash. Tokens expire AuthTokenLifetime after registration; an expired
// token returns ErrTokenExpired so callers can direct the device to
// re-pair rather than report a credential mismatch.
func (r *Registry) Authenticate(ctx context.Context, deviceID, token string) (*Device, error) {
	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	hash := HashToken(token)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(device.AuthTokenHash)) != 1 {
		if r.trust == TrustPermissive {
			r.logger.Warn("PERMISSIVE TRUST: accepting device with mismatched token",
				"device_id", deviceID)
			r.recordTrustFallback(ctx, device.UserID, deviceID, "authentication accepted with mismatched token")
			return device, nil
		}
		return nil, ErrTokenInvalid
	}

	if r.now().After(device.RegisteredAt.Add(AuthTokenLifetime)) {
		if r.trust == TrustPermissive {
			r.logger.Warn("PERMISSIVE TRUST: accepting device with expired token",
				"device_id", deviceID, "registered_at", device.RegisteredAt)
			r.recordTrustFallback(ctx, device.UserID, deviceID, "authentication accepted with expired token")
			return device, nil
		}
		return nil, ErrTokenExpired
	}

	return device, nil
}

// VerifyOwnership checks that a device belongs to the given user.
// Returns ErrDeviceNotFound for unknown devices and ErrNotOwner when
// the device is paired to someone else.
func (r *Registry) VerifyOwnership(ctx context.Context, userID, deviceID string) (*Device, error) {
	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.UserID != userID {
		return nil, ErrNotOwner
	}
	return device, nil
}

// TouchDevice records that a device has just contacted the server.
func (r *Registry) TouchDevice(ctx context.Context, deviceID string) error {
	now := r.now().UTC()
	if err := r.repo.UpdateLastSeen(ctx, deviceID, now); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[deviceID]; ok {
		updated := cached.DeepCopy()
		updated.LastSeen = &now
		updated.UpdatedAt = now
		r.cache[deviceID] = updated
	}
	r.cacheMu.Unlock()

	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// ListByUser retrieves all devices paired to a specific user.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.UserID == userID {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByUser(ctx, userID)
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
