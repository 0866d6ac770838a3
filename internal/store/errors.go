package store

import "errors"

var (
	// ErrProfileNotFound is returned when a lock profile does not exist.
	ErrProfileNotFound = errors.New("store: profile not found")

	// ErrProfileExists is returned when a profile name is already taken
	// for a lock.
	ErrProfileExists = errors.New("store: profile already exists")

	// ErrEntryNotFound is returned when a calibration log entry does not
	// exist.
	ErrEntryNotFound = errors.New("store: calibration entry not found")
)
