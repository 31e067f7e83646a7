package store

import "errors"

// Sentinel errors shared by all repositories. Callers branch with
// errors.Is; wrapped messages carry the operation context.
var (
	// ErrNotFound covers both genuinely missing rows and rows owned by
	// another tenant, so lookups never leak cross-tenant existence.
	ErrNotFound = errors.New("not found")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("storage unavailable")
)
