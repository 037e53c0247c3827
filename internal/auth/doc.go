// Package auth handles user accounts and API session tokens.
//
// Users live in SQLite with Argon2id password hashes. Logging in
// exchanges credentials for a short-lived HS256 JWT; API middleware
// validates it by signature alone, no database hit per request.
// Device credentials are a separate concern and live in the registry
// package.
package auth
