package kvdoc

import "errors"

// Error kinds from spec.md §7. Each is a sentinel so callers use
// errors.Is; operations that fail wrap one of these with context via
// fmt.Errorf("...: %w", ErrX), mirroring the teacher's own Error type
// plus errors.As usage in its test suite, generalized to the stdlib
// sentinel-error idiom since there is no HTTP status code to carry here.
var (
	// ErrUnexpectedRev is returned when Insert is called on a document
	// that already carries a _rev field.
	ErrUnexpectedRev = errors.New("kvdoc: unexpected _rev on insert")

	// ErrDuplicateDocument is returned when Insert targets an id that
	// already exists.
	ErrDuplicateDocument = errors.New("kvdoc: duplicate document")

	// ErrRevisionConflict is returned when Replace or Remove is called
	// with a stale or absent revision token.
	ErrRevisionConflict = errors.New("kvdoc: revision conflict")

	// ErrUndefinedView is returned when a query names a view that was
	// never registered with DefineView.
	ErrUndefinedView = errors.New("kvdoc: undefined view")

	// ErrInvalidGroupLevel is recorded by QueryBuilder.Group for an
	// argument that is neither a bool nor a non-negative number, and
	// returned by QueryBuilder.Err and Database.Query.
	ErrInvalidGroupLevel = errors.New("kvdoc: invalid group level")

	// ErrNotImplemented is returned when a query using the keys(...)
	// shape reaches the executor.
	ErrNotImplemented = errors.New("kvdoc: query shape not implemented")

	// ErrClosedDatabase is returned by any Database method called after
	// Close.
	ErrClosedDatabase = errors.New("kvdoc: database is closed")
)
