// Package events publishes lead lifecycle facts on NATS JetStream for
// downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/jetstream"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const (
	publishTimeout = 5 * time.Second
	streamMaxAge   = 7 * 24 * time.Hour
)

// Publisher sends domain events to <subject>.<type> from a worker pool so
// lead mutations never wait on NATS.
type Publisher struct {
	client  jetstream.ClientInterface
	pool    *ants.Pool
	stream  string
	subject string
	pending atomic.Int64
}

var _ usecase.EventPublisher = (*Publisher)(nil)

func NewPublisher(client jetstream.ClientInterface, pool *ants.Pool, stream, subject string) *Publisher {
	return &Publisher{client: client, pool: pool, stream: stream, subject: subject}
}

// Setup makes sure the events stream exists.
func (p *Publisher) Setup(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{p.subject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
	}
	if err := p.client.SetupStream(ctx, cfg); err != nil {
		return fmt.Errorf("setup events stream %q: %w", p.stream, err)
	}
	return nil
}

// Publish queues event and returns immediately. When the pool is saturated
// the event is dropped and counted as failed.
func (p *Publisher) Publish(ctx context.Context, event model.DomainEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = utils.Now()
	}
	log := logger.FromContext(ctx).With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	// The request that produced the event may finish before the task runs.
	taskCtx := context.WithoutCancel(ctx)

	p.pending.Add(1)
	observer.SetEventsQueueLength(int(p.pending.Load()))
	err := p.pool.Submit(func() {
		defer func() {
			observer.SetEventsQueueLength(int(p.pending.Add(-1)))
		}()
		p.send(taskCtx, log, event)
	})
	if err != nil {
		observer.SetEventsQueueLength(int(p.pending.Add(-1)))
		observer.IncEventPublished(event.Type, err)
		log.Warn("Dropping lead event, publisher saturated", zap.Error(err))
	}
}

func (p *Publisher) send(ctx context.Context, log *zap.Logger, event model.DomainEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		observer.IncEventPublished(event.Type, err)
		log.Error("Marshal lead event failed", zap.Error(err))
		return
	}

	subject := p.subject + "." + event.Type
	err = p.client.Publish(ctx, subject, data, map[string]string{nats.MsgIdHdr: event.ID})
	observer.IncEventPublished(event.Type, err)
	if err != nil {
		log.Error("Publish lead event failed", zap.Error(err), zap.String("subject", subject))
		return
	}
	log.Debug("Lead event published", zap.String("subject", subject))
}

// Pending is the number of queued or in-flight events.
func (p *Publisher) Pending() int64 {
	return p.pending.Load()
}
