// Package gcs stores outcomes as JSON objects in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/sink"
)

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

type putFunc func(ctx context.Context, object, contentType string, r io.Reader) error

// Sink uploads one object per outcome.
type Sink struct {
	bucket string
	prefix string
	put    putFunc
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newSink(cfg, func(ctx context.Context, object, contentType string, r io.Reader) error {
		writer := client.Bucket(cfg.Bucket).Object(object).NewWriter(ctx)
		writer.ContentType = contentType
		if _, err := io.Copy(writer, r); err != nil {
			closeErr := writer.Close()
			if closeErr != nil {
				return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
			}
			return fmt.Errorf("copy object: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close writer: %w", err)
		}
		return nil
	})
}

func newSink(cfg Config, put putFunc) (*Sink, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		put:    put,
	}, nil
}

// Emit uploads the outcome payload.
func (s *Sink) Emit(ctx context.Context, o profile.Outcome) error {
	kind, data, err := sink.Encode(o)
	if err != nil {
		return err
	}
	object := s.ObjectName(kind, o.RequestID())
	if err := s.put(ctx, object, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", s.bucket, object, err)
	}
	return nil
}

// ObjectName returns the object key for an outcome.
func (s *Sink) ObjectName(kind, requestID string) string {
	return path.Join(s.prefix, kind+"s", requestID+".json")
}

// Close is a no-op; the storage client is owned by the caller.
func (s *Sink) Close(context.Context) error {
	return nil
}
