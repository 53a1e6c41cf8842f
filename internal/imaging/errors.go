package imaging

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned when the input bytes are not a supported raster image.
	ErrDecode = errors.New("image could not be decoded")

	// ErrEmptyImage is returned when the decoded image has no pixels.
	ErrEmptyImage = errors.New("image has zero width or height")
)

// DecodeError describes a failure to turn raw bytes into a usable image.
// It always matches ErrDecode with errors.Is.
type DecodeError struct {
	// Op is the operation that failed (e.g., "Process", "decode").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("imaging: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("imaging: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches ErrDecode as well as the wrapped error.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode || errors.Is(e.Err, target)
}

func newDecodeError(op string, err error, details string) *DecodeError {
	return &DecodeError{Op: op, Err: err, Details: details}
}
