package model

import "errors"

var (
	// ErrValidation marks a missing or invalid field on a write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a memory, block or message lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by a conditional put on an occupied key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoSignificantChange rejects an update whose content is nearly
	// identical to what is stored.
	ErrNoSignificantChange = errors.New("no significant change")
)

// IsValidation reports whether err belongs to the validation class, which
// includes rejected no-op updates.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNoSignificantChange)
}
