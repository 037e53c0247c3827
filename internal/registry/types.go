package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pairing and token lifetime constants.
const (
	// PairingCodeTTL is how long a pairing code remains redeemable.
	PairingCodeTTL = 10 * time.Minute

	// pairingCodeLength is the number of characters in a pairing code.
	pairingCodeLength = 8

	// AuthTokenLifetime is how long a device auth token stays valid
	// after registration before the device must re-pair.
	AuthTokenLifetime = 30 * 24 * time.Hour

	// authTokenBytes is the raw entropy of a device auth token (256-bit).
	authTokenBytes = 32

	// maxNameLength bounds device display names.
	maxNameLength = 128
)

// pairingCodeCharset excludes easily-confused characters (0/O, 1/I/L).
const pairingCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Device is a paired agent process on a user's machine.
type Device struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Name          string     `json:"name"`
	Platform      string     `json:"platform"`
	AuthTokenHash string     `json:"-"` // never serialised
	RegisteredAt  time.Time  `json:"registered_at"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DeepCopy returns an independent copy of the device.
// Used by the registry cache to prevent external mutation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	copied := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		copied.LastSeen = &t
	}
	return &copied
}

// PairingCode is a short-lived, single-use code binding a registration
// to the user who generated it. Codes are held in memory and mirrored
// to durable storage so they survive a restart within the TTL.
type PairingCode struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}

// TrustMode selects how strictly pairing and authentication are enforced.
type TrustMode string

const (
	// TrustStrict requires a valid pairing code to register and a
	// matching token to authenticate. This is the production default.
	TrustStrict TrustMode = "strict"

	// TrustPermissive accepts registration without a valid pairing code
	// and tolerates token mismatches. Development only; every relaxation
	// is logged as a degraded mode.
	TrustPermissive TrustMode = "permissive"
)

// ParseTrustMode validates a configured trust mode string.
func ParseTrustMode(s string) (TrustMode, error) {
	switch TrustMode(s) {
	case TrustStrict, TrustPermissive:
		return TrustMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTrustMode, s)
	}
}

// permissiveUserID is the sentinel owner for devices registered under
// permissive trust without a pairing code.
const permissiveUserID = "local-dev"

// GenerateDeviceID creates a new prefixed device identifier.
func GenerateDeviceID() string {
	return "dev-" + uuid.NewString()[:8]
}

// GenerateAuthToken creates a cryptographically random device token (256-bit).
// The raw token is returned to the device once; only the hash is stored.
func GenerateAuthToken() (string, error) {
	b := make([]byte, authTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating auth token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex-encoded SHA-256 of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generatePairingCode creates a random uppercase code from the pairing charset.
func generatePairingCode() (string, error) {
	b := make([]byte, pairingCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	var sb strings.Builder
	for _, v := range b {
		sb.WriteByte(pairingCodeCharset[int(v)%len(pairingCodeCharset)])
	}
	return sb.String(), nil
}

// validateDevice checks the fields a caller controls at registration.
func validateDevice(name, platform string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxNameLength)
	}
	if platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidDevice)
	}
	return nil
}
