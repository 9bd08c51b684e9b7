package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding mirrored task events.
	StreamName = "BROWSERD_TASKS"
	// SubjectPattern matches every task event subject.
	SubjectPattern = "TASKS.events.>"
	// eventMaxAge bounds how long mirrored events are retained.
	eventMaxAge = 24 * time.Hour
)

// Publisher mirrors task lifecycle events onto JetStream so external
// consumers can follow agent runs without holding an HTTP stream open.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher ensures the event stream exists and returns a publisher
// bound to it.
func NewPublisher(ctx context.Context, js jetstream.JetStream) (*Publisher, error) {
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Browser agent task events",
		Subjects:    []string{SubjectPattern},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      eventMaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event stream: %w", err)
	}
	return &Publisher{js: js}, nil
}

// Publish writes one event onto the stream.
func (p *Publisher) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
