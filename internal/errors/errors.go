// Package errors provides small error helpers shared across jsi packages.
package errors

import "fmt"

// Wrap returns a new error wrapping the passed error. If the passed error is
// nil, nil is returned.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w", err)
}

// Wrapf returns a new error wrapping the passed error with additional
// context. If the passed error is nil, nil is returned.
func Wrapf(err error, msg string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s; error: %w", fmt.Sprintf(msg, args...), err)
}
