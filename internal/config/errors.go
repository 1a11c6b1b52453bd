package config

import (
	"fmt"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Error reports a fatal configuration problem. It matches profile.ErrConfig
// under errors.Is.
type Error struct {
	Key string
	Err error
}

func newError(key, msg string) *Error {
	return &Error{Key: key, Err: fmt.Errorf("%s", msg)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", profile.ErrConfig, e.Key, e.Err)
}

// Unwrap exposes both the cause and profile.ErrConfig.
func (e *Error) Unwrap() []error {
	return []error{profile.ErrConfig, e.Err}
}
