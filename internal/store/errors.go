package store

import "errors"

// Sentinel error kinds. Callers classify with errors.Is; the concrete
// gorm-backed Store wraps these with context via
// fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound is returned when a market, order, wallet, or trade
	// lookup finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is a unique-key violation (e.g. creating a market id
	// that already exists).
	ErrConflict = errors.New("store: conflict")

	// ErrTransient marks a retry-safe failure: a deadlock or a
	// serialization failure from the database. Callers may retry the
	// enclosing command up to an implementation-defined bound.
	ErrTransient = errors.New("store: transient failure")

	// ErrInvariant marks an attempt to write a value that would violate a
	// wallet or order invariant (e.g. a negative balance component).
	// Callers must treat this as fatal to the requesting command and never
	// retry it.
	ErrInvariant = errors.New("store: invariant violation")
)
