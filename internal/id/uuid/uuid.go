// Package uuid provides request and session ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 identifiers, optionally prefixed so
// session and request ids are distinguishable in logs.
type Generator struct {
	prefix string
}

// New creates an unprefixed Generator.
func New() *Generator {
	return &Generator{}
}

// NewWithPrefix creates a Generator whose ids start with prefix.
func NewWithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
