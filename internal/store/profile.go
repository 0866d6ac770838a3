// Package store persists lock profiles and the calibration history in
// SQLite. Profiles let a lock be restored to a known-good working point
// after a restart; the calibration log keeps an auditable record of every
// autocalibration attempt.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is a named, persisted lock configuration.
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LockID       string    `json:"lock_id"`
	Channel      string    `json:"channel"`
	Setpoint     float64   `json:"setpoint"`
	Kp           float64   `json:"kp"`
	Ki           float64   `json:"ki"`
	OutputOffset float64   `json:"output_offset"`
	Sensitivity  float64   `json:"sensitivity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileRepository defines the interface for profile persistence.
// The abstraction keeps handlers testable without a database.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByName(ctx context.Context, lockID, name string) (*Profile, error)
	List(ctx context.Context) ([]Profile, error)
	ListByLock(ctx context.Context, lockID string) ([]Profile, error)
	Create(ctx context.Context, p *Profile) error
	Update(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, id string) error
}

const profileColumns = `id, name, lock_id, channel, setpoint, kp, ki,
			output_offset, sensitivity, created_at, updated_at`

// SQLiteProfileRepository implements ProfileRepository using SQLite.
type SQLiteProfileRepository struct {
	db *sql.DB
}

// NewSQLiteProfileRepository creates a new SQLite-backed profile repository.
func NewSQLiteProfileRepository(db *sql.DB) *SQLiteProfileRepository {
	return &SQLiteProfileRepository{db: db}
}

// GetByID retrieves a profile by its unique identifier.
func (r *SQLiteProfileRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM lock_profiles WHERE id = ?`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("querying profile by id: %w", err)
	}
	return p, nil
}

// GetByName retrieves a profile by lock ID and profile name.
func (r *SQLiteProfileRepository) GetByName(ctx context.Context, lockID, name string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM lock_profiles WHERE lock_id = ? AND name = ?`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, lockID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("querying profile by name: %w", err)
	}
	return p, nil
}

// List retrieves all profiles ordered by lock then name.
func (r *SQLiteProfileRepository) List(ctx context.Context) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM lock_profiles ORDER BY lock_id, name`
	return r.queryProfiles(ctx, query)
}

// ListByLock retrieves all profiles for one lock.
func (r *SQLiteProfileRepository) ListByLock(ctx context.Context, lockID string) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM lock_profiles WHERE lock_id = ? ORDER BY name`
	return r.queryProfiles(ctx, query, lockID)
}

// Create inserts a new profile. Assigns an ID if the profile has none.
func (r *SQLiteProfileRepository) Create(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO lock_profiles (
			id, name, lock_id, channel, setpoint, kp, ki,
			output_offset, sensitivity, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.LockID,
		p.Channel,
		p.Setpoint,
		p.Kp,
		p.Ki,
		p.OutputOffset,
		p.Sensitivity,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// Update modifies an existing profile.
func (r *SQLiteProfileRepository) Update(ctx context.Context, p *Profile) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE lock_profiles SET
			name = ?, lock_id = ?, channel = ?, setpoint = ?, kp = ?, ki = ?,
			output_offset = ?, sensitivity = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.LockID,
		p.Channel,
		p.Setpoint,
		p.Kp,
		p.Ki,
		p.OutputOffset,
		p.Sensitivity,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("updating profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Delete removes a profile by ID.
func (r *SQLiteProfileRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM lock_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *SQLiteProfileRepository) queryProfiles(ctx context.Context, query string, args ...any) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning profile: %w", scanErr)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return profiles, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(scanner rowScanner) (*Profile, error) {
	var p Profile
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&p.LockID,
		&p.Channel,
		&p.Setpoint,
		&p.Kp,
		&p.Ki,
		&p.OutputOffset,
		&p.Sensitivity,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		p.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
