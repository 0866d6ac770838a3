package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CalibrationEntry records one autocalibration attempt.
type CalibrationEntry struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Channel       string     `json:"channel"`
	MeasuredValue *float64   `json:"measured_value,omitempty"`
	ExpectedValue float64    `json:"expected_value"`
	Outcome       string     `json:"outcome"`
	Detail        *string    `json:"detail,omitempty"`
}

// CalibrationLog defines the interface for calibration history persistence.
type CalibrationLog interface {
	Append(ctx context.Context, e *CalibrationEntry) error
	GetByID(ctx context.Context, id string) (*CalibrationEntry, error)
	ListRecent(ctx context.Context, limit int) ([]CalibrationEntry, error)
	ListSince(ctx context.Context, since time.Time) ([]CalibrationEntry, error)
}

const calibrationColumns = `id, started_at, finished_at, channel,
			measured_value, expected_value, outcome, detail`

// SQLiteCalibrationLog implements CalibrationLog using SQLite.
type SQLiteCalibrationLog struct {
	db *sql.DB
}

// NewSQLiteCalibrationLog creates a new SQLite-backed calibration log.
func NewSQLiteCalibrationLog(db *sql.DB) *SQLiteCalibrationLog {
	return &SQLiteCalibrationLog{db: db}
}

// Append inserts a new calibration entry. Assigns an ID if the entry has
// none.
func (l *SQLiteCalibrationLog) Append(ctx context.Context, e *CalibrationEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO calibration_log (
			id, started_at, finished_at, channel,
			measured_value, expected_value, outcome, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		e.StartedAt.Format(time.RFC3339),
		nullableTime(e.FinishedAt),
		e.Channel,
		nullableFloat(e.MeasuredValue),
		e.ExpectedValue,
		e.Outcome,
		nullableString(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("inserting calibration entry: %w", err)
	}
	return nil
}

// GetByID retrieves a calibration entry by ID.
func (l *SQLiteCalibrationLog) GetByID(ctx context.Context, id string) (*CalibrationEntry, error) {
	query := `SELECT ` + calibrationColumns + ` FROM calibration_log WHERE id = ?`

	e, err := scanCalibration(l.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying calibration entry: %w", err)
	}
	return e, nil
}

// ListRecent retrieves the most recent calibration entries, newest first.
func (l *SQLiteCalibrationLog) ListRecent(ctx context.Context, limit int) ([]CalibrationEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT ` + calibrationColumns + `
		FROM calibration_log ORDER BY started_at DESC LIMIT ?`
	return l.queryEntries(ctx, query, limit)
}

// ListSince retrieves all entries started at or after the given time,
// oldest first.
func (l *SQLiteCalibrationLog) ListSince(ctx context.Context, since time.Time) ([]CalibrationEntry, error) {
	query := `SELECT ` + calibrationColumns + `
		FROM calibration_log WHERE started_at >= ? ORDER BY started_at`
	return l.queryEntries(ctx, query, since.UTC().Format(time.RFC3339))
}

func (l *SQLiteCalibrationLog) queryEntries(ctx context.Context, query string, args ...any) ([]CalibrationEntry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying calibration entries: %w", err)
	}
	defer rows.Close()

	var entries []CalibrationEntry
	for rows.Next() {
		e, scanErr := scanCalibration(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning calibration entry: %w", scanErr)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calibration entries: %w", err)
	}
	return entries, nil
}

func scanCalibration(scanner rowScanner) (*CalibrationEntry, error) {
	var e CalibrationEntry
	var startedAt string
	var finishedAt, detail sql.NullString
	var measured sql.NullFloat64

	err := scanner.Scan(
		&e.ID,
		&startedAt,
		&finishedAt,
		&e.Channel,
		&measured,
		&e.ExpectedValue,
		&e.Outcome,
		&detail,
	)
	if err != nil {
		return nil, err
	}

	if t, parseErr := time.Parse(time.RFC3339, startedAt); parseErr == nil {
		e.StartedAt = t
	}
	if finishedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, finishedAt.String); parseErr == nil {
			e.FinishedAt = &t
		}
	}
	if measured.Valid {
		e.MeasuredValue = &measured.Float64
	}
	if detail.Valid {
		e.Detail = &detail.String
	}
	return &e, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
