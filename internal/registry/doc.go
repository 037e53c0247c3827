// Package registry manages paired devices and their credentials.
//
// A device joins the system through a short-lived, single-use pairing code
// generated for an authenticated user. Registration consumes the code and
// issues the device a long-lived auth token; only the token's SHA-256 hash
// is stored. Subsequent requests authenticate with the device ID and raw
// token.
//
// The Registry wraps a Repository with an in-memory cache, mirroring the
// lookup-heavy access pattern of the transport and dispatch layers. All
// public methods are safe for concurrent use.
//
// Trust policy is injected at construction: strict mode (production)
// enforces pairing codes and token matches, permissive mode (development
// only) relaxes both and logs every relaxation loudly.
package registry
