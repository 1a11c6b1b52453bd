// Package sink emits terminal request outcomes.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Payload kinds.
const (
	KindRecord  = "record"
	KindFailure = "failure"
)

// ErrEmptyOutcome is returned for an outcome carrying neither record nor failure.
var ErrEmptyOutcome = errors.New("outcome has neither record nor failure")

// Encode returns the outcome's kind and its JSON payload: the record or the
// failure descriptor, never both.
func Encode(o profile.Outcome) (string, []byte, error) {
	var (
		kind string
		v    any
	)
	switch {
	case o.Record != nil && o.Failure != nil:
		return "", nil, fmt.Errorf("outcome for %s has both record and failure", o.RequestID())
	case o.Record != nil:
		kind, v = KindRecord, o.Record
	case o.Failure != nil:
		kind, v = KindFailure, o.Failure
	default:
		return "", nil, ErrEmptyOutcome
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	return kind, data, nil
}

// Writer emits one JSON document per line to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a line-delimited JSON sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit writes the outcome payload followed by a newline.
func (s *Writer) Emit(ctx context.Context, o profile.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	_, data, err := Encode(o)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

// Close is a no-op; the underlying writer is owned by the caller.
func (s *Writer) Close(context.Context) error {
	return nil
}

// Multi fans each outcome out to several sinks.
type Multi struct {
	sinks []profile.Sink
}

// NewMulti combines sinks; nil entries are skipped.
func NewMulti(sinks ...profile.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit delivers o to every sink and joins their errors.
func (m *Multi) Emit(ctx context.Context, o profile.Outcome) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
