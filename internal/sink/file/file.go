// Package file writes outcomes as JSON documents under a directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/sink"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Sink saves one file per outcome: <root>/<kind>s/<request id>.json.
type Sink struct {
	root   string
	logger *zap.Logger
}

// New returns a sink rooted at dir.
func New(root string, logger *zap.Logger) (*Sink, error) {
	if root == "" {
		return nil, fmt.Errorf("sink directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{root: root, logger: logger}, nil
}

// Emit writes the outcome payload.
func (s *Sink) Emit(ctx context.Context, o profile.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	kind, data, err := sink.Encode(o)
	if err != nil {
		return err
	}
	target := s.Path(kind, o.RequestID())
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating dir for %s: %w", target, err)
	}
	var pretty json.RawMessage = data
	payload, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("indent %s: %w", kind, err)
	}
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("writing %s to %s: %w", kind, target, err)
	}
	s.logger.Debug("outcome written", zap.String("path", target))
	return nil
}

// Path returns where an outcome of kind for requestID is stored.
func (s *Sink) Path(kind, requestID string) string {
	name := unsafeChars.ReplaceAllString(requestID, "_")
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.root, kind+"s", name+".json")
}

// Close is a no-op.
func (s *Sink) Close(context.Context) error {
	return nil
}
