package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("registry: device already exists")

	// ErrCodeNotFound is returned when a pairing code does not exist.
	ErrCodeNotFound = errors.New("registry: pairing code not found")

	// ErrCodeExpired is returned when a pairing code is past its TTL.
	ErrCodeExpired = errors.New("registry: pairing code expired")

	// ErrCodeUsed is returned when a pairing code has already been consumed.
	ErrCodeUsed = errors.New("registry: pairing code already used")

	// ErrTokenInvalid is returned when an auth token does not match the stored hash.
	ErrTokenInvalid = errors.New("registry: auth token invalid")

	// ErrTokenExpired is returned when a device's auth token is past its lifetime.
	ErrTokenExpired = errors.New("registry: auth token expired")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("registry: invalid device")

	// ErrInvalidTrustMode is returned when a trust mode value is not recognised.
	ErrInvalidTrustMode = errors.New("registry: invalid trust mode")

	// ErrCodeGeneration is returned when a unique pairing code could not be generated.
	ErrCodeGeneration = errors.New("registry: pairing code generation failed")

	// ErrNotOwner is returned when a device belongs to a different user.
	ErrNotOwner = errors.New("registry: device not owned by user")
)
