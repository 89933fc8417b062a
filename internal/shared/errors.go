package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a request rejected before any storage access.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a decrement larger than the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransaction indicates a failure inside a unit of work; nothing was committed.
	ErrTransaction = errors.New("transaction failed")
	// ErrConnectivity indicates the backing store could not be reached.
	ErrConnectivity = errors.New("store unreachable")
)

// IsDomainError reports whether err already carries one of the core sentinels.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrTransaction) ||
		errors.Is(err, ErrConnectivity) ||
		errors.Is(err, ErrIdempotencyConflict)
}
