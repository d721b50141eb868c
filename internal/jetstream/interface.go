package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the slice of JetStream the consumer and the event
// publisher need. Mocked in tests.
type ClientInterface interface {
	// SetupStream creates the stream or updates it when the config drifted.
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// SetupConsumer creates the durable consumer, recreating it on config drift.
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// SubscribePush binds a queue subscription to an existing push consumer.
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)

	// Publish publishes to a stream subject with optional headers.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	// Connected reports whether the underlying connection is up.
	Connected() bool

	Close()
}
