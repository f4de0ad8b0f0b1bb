package errors

import "errors"

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error with the given text. Prefer the package
// sentinels; this exists for one-off construction in tests and wrappers.
func New(text string) error {
	return errors.New(text)
}
