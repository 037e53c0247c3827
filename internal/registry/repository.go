package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByUser retrieves all devices paired to a specific user.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// UpdateLastSeen records when a device last contacted the server.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateLastSeen(ctx context.Context, id string, seen time.Time) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// Pairing codes are mirrored to durable storage so an in-flight
	// pairing survives a process restart within the code's TTL.

	// CreatePairingCode stores a newly issued pairing code.
	CreatePairingCode(ctx context.Context, pc *PairingCode) error

	// GetPairingCode retrieves a pairing code by its value.
	// Returns ErrCodeNotFound if the code does not exist.
	GetPairingCode(ctx context.Context, code string) (*PairingCode, error)

	// MarkPairingCodeUsed marks a code redeemed. Returns ErrCodeUsed if
	// it was already redeemed and ErrCodeNotFound if it does not exist.
	MarkPairingCodeUsed(ctx context.Context, code string) error

	// DeleteExpiredPairingCodes removes codes that expired before the
	// given time, returning how many were removed.
	DeleteExpiredPairingCodes(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT id, user_id, name, platform, auth_token_hash,
			registered_at, last_seen, created_at, updated_at
		FROM devices
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT id, user_id, name, platform, auth_token_hash,
			registered_at, last_seen, created_at, updated_at
		FROM devices
		ORDER BY name`

	return r.queryDevices(ctx, query)
}

// ListByUser retrieves all devices paired to a specific user.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	query := `
		SELECT id, user_id, name, platform, auth_token_hash,
			registered_at, last_seen, created_at, updated_at
		FROM devices
		WHERE user_id = ?
		ORDER BY name`

	return r.queryDevices(ctx, query, userID)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, user_id, name, platform, auth_token_hash,
			registered_at, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.UserID,
		device.Name,
		device.Platform,
		device.AuthTokenHash,
		device.RegisteredAt.UTC().Format(time.RFC3339),
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// UpdateLastSeen records when a device last contacted the server.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, id string, seen time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		seen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device last seen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// CreatePairingCode stores a newly issued pairing code.
func (r *SQLiteRepository) CreatePairingCode(ctx context.Context, pc *PairingCode) error {
	query := `
		INSERT INTO pairing_codes (code, user_id, expires_at, used, created_at)
		VALUES (?, ?, ?, 0, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pc.Code,
		pc.UserID,
		pc.ExpiresAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting pairing code: %w", err)
	}
	return nil
}

// GetPairingCode retrieves a pairing code by its value.
func (r *SQLiteRepository) GetPairingCode(ctx context.Context, code string) (*PairingCode, error) {
	query := `SELECT code, user_id, expires_at, used FROM pairing_codes WHERE code = ?`

	var pc PairingCode
	var expiresAt string
	var used int
	err := r.db.QueryRowContext(ctx, query, code).Scan(&pc.Code, &pc.UserID, &expiresAt, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("querying pairing code: %w", err)
	}

	pc.Used = used != 0
	pc.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &pc, nil
}

// MarkPairingCodeUsed flips the used flag. The conditional update keeps
// redemption single-use even when two processes share the database.
func (r *SQLiteRepository) MarkPairingCodeUsed(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE pairing_codes SET used = 1 WHERE code = ? AND used = 0", code)
	if err != nil {
		return fmt.Errorf("marking pairing code used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		var used int
		err := r.db.QueryRowContext(ctx,
			"SELECT used FROM pairing_codes WHERE code = ?", code).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCodeNotFound
		}
		if err != nil {
			return fmt.Errorf("checking pairing code: %w", err)
		}
		return ErrCodeUsed
	}
	return nil
}

// DeleteExpiredPairingCodes removes codes that expired before the given time.
func (r *SQLiteRepository) DeleteExpiredPairingCodes(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM pairing_codes WHERE expires_at < ?", before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired pairing codes: %w", err)
	}
	return result.RowsAffected()
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var lastSeen sql.NullString
	var registeredAt, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Platform,
		&d.AuthTokenHash,
		&registeredAt,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.RegisteredAt, parseErr = time.Parse(time.RFC3339, registeredAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", parseErr)
	}
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
