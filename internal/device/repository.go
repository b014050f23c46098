package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device registry persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// List retrieves all of a user's devices in registration order.
	List(ctx context.Context, userID string) ([]Device, error)

	// Exists reports whether the user has the device.
	Exists(ctx context.Context, userID, deviceID string) (bool, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the user already has it.
	Create(ctx context.Context, d *Device) error

	// Delete removes a device and reports whether it was present.
	Delete(ctx context.Context, userID, deviceID string) (bool, error)

	// Rename changes a device's display name.
	// Returns ErrDeviceNotFound if the user does not have it.
	Rename(ctx context.Context, userID, deviceID, name string) error
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

// List retrieves all of a user's devices in registration order.
func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, device_id, name, created_at
		FROM devices
		WHERE user_id = ?
		ORDER BY created_at, device_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Exists reports whether the user has the device.
func (r *SQLiteRepository) Exists(ctx context.Context, userID, deviceID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM devices WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device existence: %w", err)
	}
	return true, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	exists, err := r.Exists(ctx, d.UserID, d.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (user_id, device_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		d.UserID, d.ID, d.Name, d.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Delete removes a device and reports whether it was present.
func (r *SQLiteRepository) Delete(ctx context.Context, userID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return affected > 0, nil
}

// Rename changes a device's display name.
func (r *SQLiteRepository) Rename(ctx context.Context, userID, deviceID, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET name = ? WHERE user_id = ? AND device_id = ?`,
		name, userID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("renaming device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rename result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (Device, error) {
	var d Device
	var createdAt string
	if err := row.Scan(&d.UserID, &d.ID, &d.Name, &createdAt); err != nil {
		return Device{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Device{}, fmt.Errorf("parsing device timestamp: %w", err)
	}
	d.CreatedAt = ts
	return d, nil
}
