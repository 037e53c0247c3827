package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rmcgann/agentlink-core/internal/audit"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	codes   map[string]*PairingCode
	// For testing error paths
	createErr error
	deleteErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
		codes:   make(map[string]*PairingCode),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		copy := *d
		return &copy, nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d)
	}
	return devices, nil
}

func (m *MockRepository) ListByUser(_ context.Context, userID string) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.UserID == userID {
			devices = append(devices, *d)
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.ID]; exists {
		return ErrDeviceExists
	}

	copy := *device
	m.devices[device.ID] = &copy
	return nil
}

func (m *MockRepository) UpdateLastSeen(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return ErrDeviceNotFound
	}

	d.LastSeen = &seen
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}

	delete(m.devices, id)
	return nil
}

func (m *MockRepository) CreatePairingCode(_ context.Context, pc *PairingCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copy := *pc
	m.codes[pc.Code] = &copy
	return nil
}

func (m *MockRepository) GetPairingCode(_ context.Context, code string) (*PairingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	copy := *pc
	return &copy, nil
}

func (m *MockRepository) MarkPairingCodeUsed(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.codes[code]
	if !ok {
		return ErrCodeNotFound
	}
	if pc.Used {
		return ErrCodeUsed
	}
	pc.Used = true
	return nil
}

func (m *MockRepository) DeleteExpiredPairingCodes(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for code, pc := range m.codes {
		if pc.ExpiresAt.Before(before) {
			delete(m.codes, code)
			removed++
		}
	}
	return removed, nil
}

// addDevice adds a device directly to the mock for test setup.
func (m *MockRepository) addDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *d
	m.devices[d.ID] = &copy
}

// testDevice creates a device for testing.
func testDevice(id, userID string) *Device {
	now := time.Now().UTC()
	return &Device{
		ID:            id,
		UserID:        userID,
		Name:          "Test Device",
		Platform:      "linux",
		AuthTokenHash: HashToken("token-" + id),
		RegisteredAt:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// pairAndRegister is a test helper that runs the full pairing flow.
func pairAndRegister(t *testing.T, r *Registry, userID string) *RegisterResult {
	t.Helper()

	pc, err := r.GeneratePairingCode(context.Background(), userID)
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}
	result, err := r.Register(context.Background(), pc.Code, "Test Device", "linux")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return result
}

// ===== Pairing Codes =====

func TestRegistry_GeneratePairingCode(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)

	t.Run("issues eight character code", func(t *testing.T) {
		pc, err := registry.GeneratePairingCode(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("GeneratePairingCode() error = %v", err)
		}
		if len(pc.Code) != 8 {
			t.Errorf("code length = %d, want 8", len(pc.Code))
		}
		if pc.UserID != "user-1" {
			t.Errorf("UserID = %q, want %q", pc.UserID, "user-1")
		}
		if !pc.ExpiresAt.After(time.Now()) {
			t.Error("ExpiresAt is not in the future")
		}
	})

	t.Run("rejects empty user", func(t *testing.T) {
		_, err := registry.GeneratePairingCode(context.Background(), "")
		if !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("GeneratePairingCode() error = %v, want ErrInvalidDevice", err)
		}
	})
}

func TestRegistry_PairingCodeSingleUse(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	pc, err := registry.GeneratePairingCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}

	if _, err := registry.Register(ctx, pc.Code, "First", "linux"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	// A redeemed code is reported as used, not unknown.
	_, err = registry.Register(ctx, pc.Code, "Second", "linux")
	if !errors.Is(err, ErrCodeUsed) {
		t.Errorf("second Register() error = %v, want ErrCodeUsed", err)
	}
}

func TestRegistry_PairingCodeSurvivesRestart(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()

	before := NewRegistry(repo, TrustStrict)
	pc, err := before.GeneratePairingCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}

	// A fresh registry over the same repository stands in for the
	// process after a restart: its in-memory store is empty, so the
	// code must be redeemed from the durable mirror.
	after := NewRegistry(repo, TrustStrict)
	result, err := after.Register(ctx, pc.Code, "Survivor", "linux")
	if err != nil {
		t.Fatalf("Register() after restart error = %v", err)
	}
	if result.Device.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", result.Device.UserID, "user-1")
	}

	// The durable redemption still enforces single use.
	if _, err := after.Register(ctx, pc.Code, "Second", "linux"); !errors.Is(err, ErrCodeUsed) {
		t.Errorf("second Register() error = %v, want ErrCodeUsed", err)
	}
}

func TestRegistry_PairingCodeExpiredInDurableStore(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()

	base := time.Now()
	before := NewRegistry(repo, TrustStrict)
	before.SetClock(func() time.Time { return base })
	pc, err := before.GeneratePairingCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}

	after := NewRegistry(repo, TrustStrict)
	after.SetClock(func() time.Time { return base.Add(PairingCodeTTL + time.Second) })

	if _, err := after.Register(ctx, pc.Code, "Late", "linux"); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Register() error = %v, want ErrCodeExpired", err)
	}
}

func TestRegistry_PairingCodeSingleUseConcurrent(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	pc, err := registry.GeneratePairingCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}

	const attempts = 10
	var wg sync.WaitGroup
	var successes int64
	var successMu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registry.Register(ctx, pc.Code, "Racer", "linux"); err == nil {
				successMu.Lock()
				successes++
				successMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("concurrent registrations succeeded = %d, want exactly 1", successes)
	}
}

func TestRegistry_PairingCodeExpiry(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	base := time.Now()
	registry.SetClock(func() time.Time { return base })

	pc, err := registry.GeneratePairingCode(ctx, "user-1")
	if err != nil {
		t.Fatalf("GeneratePairingCode() error = %v", err)
	}

	// Advance past the TTL
	registry.SetClock(func() time.Time { return base.Add(PairingCodeTTL + time.Second) })

	_, err = registry.Register(ctx, pc.Code, "Late", "linux")
	if !errors.Is(err, ErrCodeExpired) {
		t.Errorf("Register() error = %v, want ErrCodeExpired", err)
	}
}

func TestCodeStore_Sweep(t *testing.T) {
	base := time.Now()
	now := base
	store := newCodeStore(func() time.Time { return now })

	if _, err := store.issue("user-1"); err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	if _, err := store.issue("user-2"); err != nil {
		t.Fatalf("issue() error = %v", err)
	}

	now = base.Add(PairingCodeTTL + time.Minute)

	if removed := store.sweep(); removed != 2 {
		t.Errorf("sweep() removed = %d, want 2", removed)
	}
	if store.count() != 0 {
		t.Errorf("count() = %d, want 0", store.count())
	}
}

// ===== Registration =====

func TestRegistry_Register(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	t.Run("creates device bound to code issuer", func(t *testing.T) {
		result := pairAndRegister(t, registry, "user-1")

		if result.Device.UserID != "user-1" {
			t.Errorf("UserID = %q, want %q", result.Device.UserID, "user-1")
		}
		if result.Device.ID == "" {
			t.Error("device ID was not generated")
		}
		if result.Token == "" {
			t.Error("raw token was not returned")
		}
		if result.Device.AuthTokenHash == result.Token {
			t.Error("stored hash equals raw token; token must be hashed")
		}
		if result.Device.AuthTokenHash != HashToken(result.Token) {
			t.Error("stored hash does not match hash of returned token")
		}
	})

	t.Run("rejects unknown code in strict mode", func(t *testing.T) {
		_, err := registry.Register(ctx, "ZZZZZZ", "Rogue", "linux")
		if !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("Register() error = %v, want ErrCodeNotFound", err)
		}
	})

	t.Run("validates device fields", func(t *testing.T) {
		_, err := registry.Register(ctx, "ABCDEF", "", "linux")
		if !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("Register() error = %v, want ErrInvalidDevice", err)
		}

		_, err = registry.Register(ctx, "ABCDEF", "No Platform", "")
		if !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("Register() error = %v, want ErrInvalidDevice", err)
		}
	})
}

func TestRegistry_RegisterPermissive(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustPermissive)
	auditLog := audit.NewLog(nil)
	registry.SetAuditLog(auditLog)
	ctx := context.Background()

	result, err := registry.Register(ctx, "NOSUCH", "Dev Box", "darwin")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.Device.UserID != permissiveUserID {
		t.Errorf("UserID = %q, want %q", result.Device.UserID, permissiveUserID)
	}

	entries := auditLog.Recent(10)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != audit.ActionTrustFallback {
		t.Errorf("audit action = %q, want %q", entries[0].Action, audit.ActionTrustFallback)
	}
}

// ===== Authentication =====

func TestRegistry_Authenticate(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	result := pairAndRegister(t, registry, "user-1")
	deviceID := result.Device.ID

	t.Run("accepts valid token", func(t *testing.T) {
		device, err := registry.Authenticate(ctx, deviceID, result.Token)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if device.ID != deviceID {
			t.Errorf("ID = %q, want %q", device.ID, deviceID)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		_, err := registry.Authenticate(ctx, deviceID, "not-the-token")
		if !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Authenticate() error = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("rejects unknown device", func(t *testing.T) {
		_, err := registry.Authenticate(ctx, "dev-nope", result.Token)
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Authenticate() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_AuthenticateExpiredToken(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	base := time.Now()
	registry.SetClock(func() time.Time { return base })

	result := pairAndRegister(t, registry, "user-1")

	// Advance past the token lifetime. Expiry must be distinguishable
	// from a bad token so the device is told to re-pair.
	registry.SetClock(func() time.Time { return base.Add(AuthTokenLifetime + time.Hour) })

	_, err := registry.Authenticate(ctx, result.Device.ID, result.Token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Authenticate() error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Error("expired token must not be reported as invalid")
	}
}

func TestRegistry_AuthenticatePermissive(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustPermissive)
	auditLog := audit.NewLog(nil)
	registry.SetAuditLog(auditLog)
	ctx := context.Background()

	result, err := registry.Register(ctx, "NOSUCH", "Dev Box", "linux")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Permissive trust tolerates a mismatched token.
	device, err := registry.Authenticate(ctx, result.Device.ID, "wrong-token")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if device.ID != result.Device.ID {
		t.Errorf("ID = %q, want %q", device.ID, result.Device.ID)
	}

	// One entry for the codeless registration, one for the token mismatch.
	entries := auditLog.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != audit.ActionTrustFallback {
		t.Errorf("audit action = %q, want %q", entries[0].Action, audit.ActionTrustFallback)
	}
}

// ===== Ownership =====

func TestRegistry_VerifyOwnership(t *testing.T) {
	registry := NewRegistry(NewMockRepository(), TrustStrict)
	ctx := context.Background()

	result := pairAndRegister(t, registry, "user-1")
	deviceID := result.Device.ID

	t.Run("owner passes", func(t *testing.T) {
		device, err := registry.VerifyOwnership(ctx, "user-1", deviceID)
		if err != nil {
			t.Fatalf("VerifyOwnership() error = %v", err)
		}
		if device.ID != deviceID {
			t.Errorf("ID = %q, want %q", device.ID, deviceID)
		}
	})

	t.Run("non-owner rejected", func(t *testing.T) {
		_, err := registry.VerifyOwnership(ctx, "user-2", deviceID)
		if !errors.Is(err, ErrNotOwner) {
			t.Errorf("VerifyOwnership() error = %v, want ErrNotOwner", err)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		_, err := registry.VerifyOwnership(ctx, "user-1", "dev-nope")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("VerifyOwnership() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

// ===== Cache and lookups =====

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	repo.addDevice(testDevice("dev-1", "user-1"))
	repo.addDevice(testDevice("dev-2", "user-2"))

	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if registry.DeviceCount() != 2 {
		t.Errorf("DeviceCount() = %d, want 2", registry.DeviceCount())
	}
}

func TestRegistry_GetDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	repo.addDevice(testDevice("dev-get", "user-1"))
	registry.RefreshCache(ctx)

	t.Run("returns device from cache", func(t *testing.T) {
		got, err := registry.GetDevice(ctx, "dev-get")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.ID != "dev-get" {
			t.Errorf("ID = %q, want %q", got.ID, "dev-get")
		}
	})

	t.Run("returned device is a copy", func(t *testing.T) {
		got, _ := registry.GetDevice(ctx, "dev-get")
		got.Name = "mutated"

		again, _ := registry.GetDevice(ctx, "dev-get")
		if again.Name == "mutated" {
			t.Error("mutating a returned device leaked into the cache")
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent", func(t *testing.T) {
		_, err := registry.GetDevice(ctx, "nonexistent")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_ListByUser(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	repo.addDevice(testDevice("dev-a", "user-1"))
	repo.addDevice(testDevice("dev-b", "user-1"))
	repo.addDevice(testDevice("dev-c", "user-2"))
	registry.RefreshCache(ctx)

	devices, err := registry.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("ListByUser() returned %d devices, want 2", len(devices))
	}
}

func TestRegistry_TouchDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	repo.addDevice(testDevice("dev-touch", "user-1"))
	registry.RefreshCache(ctx)

	if err := registry.TouchDevice(ctx, "dev-touch"); err != nil {
		t.Fatalf("TouchDevice() error = %v", err)
	}

	got, err := registry.GetDevice(ctx, "dev-touch")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.LastSeen == nil {
		t.Error("LastSeen was not set")
	}

	if err := registry.TouchDevice(ctx, "dev-nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("TouchDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	repo := NewMockRepository()
	registry := NewRegistry(repo, TrustStrict)
	ctx := context.Background()

	repo.addDevice(testDevice("dev-del", "user-1"))
	registry.RefreshCache(ctx)

	if err := registry.DeleteDevice(ctx, "dev-del"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	_, err := registry.GetDevice(ctx, "dev-del")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v, want ErrDeviceNotFound", err)
	}
}

// ===== Helpers =====

func TestParseTrustMode(t *testing.T) {
	tests := []struct {
		input   string
		want    TrustMode
		wantErr bool
	}{
		{"strict", TrustStrict, false},
		{"permissive", TrustPermissive, false},
		{"", "", true},
		{"open", "", true},
		{"STRICT", "", true},
	}

	for _, tt := range tests {
		t.Run("input "+tt.input, func(t *testing.T) {
			got, err := ParseTrustMode(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTrustMode) {
					t.Errorf("ParseTrustMode(%q) error = %v, want ErrInvalidTrustMode", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTrustMode(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseTrustMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("secret")
	h2 := HashToken("secret")
	h3 := HashToken("other")

	if h1 != h2 {
		t.Error("hashing the same token produced different results")
	}
	if h1 == h3 {
		t.Error("different tokens produced the same hash")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex characters", len(h1))
	}
}

func TestGenerateDeviceID(t *testing.T) {
	id := GenerateDeviceID()
	if len(id) != len("dev-")+8 {
		t.Errorf("GenerateDeviceID() = %q, want dev- prefix plus 8 characters", id)
	}
	if id[:4] != "dev-" {
		t.Errorf("GenerateDeviceID() = %q, want dev- prefix", id)
	}
}

func TestGeneratePairingCodeCharset(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generatePairingCode()
		if err != nil {
			t.Fatalf("generatePairingCode() error = %v", err)
		}
		for _, c := range code {
			if !containsRune(pairingCodeCharset, c) {
				t.Fatalf("code %q contains %q outside the charset", code, c)
			}
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
