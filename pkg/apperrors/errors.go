package apperrors

import "errors"

var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a request is already terminal or the
// target status is not a successor of Pending.
var ErrInvalidTransition = errors.New("invalid status transition")

var ErrInvalidStatus = errors.New("invalid status")

var ErrPersistence = errors.New("persistence failure")

var ErrValidation = errors.New("validation failed")

var ErrCategoryExists = errors.New("category already exists")

// ErrRequestExists is returned when a document already has a request row.
var ErrRequestExists = errors.New("request already exists for file")

var ErrFileNotFound = errors.New("file not found")

// IsDomain reports whether err is a business outcome rather than a storage
// failure. Domain errors are never retried.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCategoryExists) ||
		errors.Is(err, ErrRequestExists)
}
