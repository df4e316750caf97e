package db

import "errors"

var (
	ErrSanEmpty         = errors.New("db: san must be non-empty")
	ErrSanFirstMismatch = errors.New("db: san[0] must equal main_domain")
	ErrDatesUnset       = errors.New("db: not_before/not_after must be set for issued/deployed certs")
	ErrDatesInverted    = errors.New("db: not_before must not be after not_after")

	// ErrNotFound is returned by Get when no record exists for a cert_id.
	ErrNotFound = errors.New("db: record not found")

	// ErrConstraintUnique is returned when an insert violates a uniqueness
	// constraint (e.g. a second row claiming the same cert_id).
	ErrConstraintUnique = errors.New("db: unique constraint violated")
)
