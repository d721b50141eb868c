package ingestion

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/leads-router/internal/model"
)

// UpdateHandler processes one Telegram update for a bot. The inbound
// processor satisfies it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, source, botIdentifier string, update model.Update) (interface{}, error)
}

// ConsumerInterface is the lifecycle of a JetStream consumer.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

// acker is the part of *nats.Msg used to settle a delivery.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

var (
	_ ConsumerInterface = (*Consumer)(nil)
	_ acker             = (*nats.Msg)(nil)
)
