package detector

import "errors"

var (
	// ErrNotInitialized is returned when an operation runs before
	// initialization or after dispose. The caller must re-initialize.
	ErrNotInitialized = errors.New("detector is not initialized")

	// ErrInvalidInput is returned for malformed image bytes or tensor
	// shapes that disagree with the model contract.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceInit is returned when model loading fails during
	// initialization.
	ErrResourceInit = errors.New("resource initialization failed")
)
