package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// contextLostMarkers are CDP error messages raised when a frame navigates
// while a command is pending against its execution context.
var contextLostMarkers = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
	"Cannot find default execution context",
}

// IsContextLostMessage reports whether a raw browser error text indicates a
// lost execution context.
func IsContextLostMessage(msg string) bool {
	for _, marker := range contextLostMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// MarkContextLost wraps err with ErrContextLost when its text indicates a lost
// execution context; other errors are returned unchanged.
func MarkContextLost(err error) error {
	if err == nil || errors.Is(err, ErrContextLost) {
		return err
	}
	if IsContextLostMessage(err.Error()) {
		return fmt.Errorf("%w: %w", ErrContextLost, err)
	}
	return err
}

// RetryContextLost runs fn and, if it fails with ErrContextLost, waits delay
// and runs it exactly once more.
func RetryContextLost(ctx context.Context, delay time.Duration, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrContextLost) {
		return err
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context lost retry: %w", ctx.Err())
	case <-timer.C:
	}
	return fn()
}
