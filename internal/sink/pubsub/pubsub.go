// Package pubsub publishes outcomes to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/profile-extractor/internal/hash/sha256"
	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/sink"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Sink wraps a Pub/Sub topic.
type Sink struct {
	publish publishFunc
	stop    func()
}

// New creates a Sink publishing to topicID.
func New(client *pubsub.Client, topicID string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	topic := client.Topic(topicID)
	return &Sink{
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
		stop: topic.Stop,
	}, nil
}

// Emit publishes the outcome payload and waits for the server ack.
func (s *Sink) Emit(ctx context.Context, o profile.Outcome) error {
	kind, data, err := sink.Encode(o)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":      kind,
			"requestId": o.RequestID(),
			"sha256":    sha256.Sum(data),
		},
	}
	if _, err := s.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *Sink) Close(context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}
