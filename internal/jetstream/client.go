package jetstream

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

var _ ClientInterface = (*Client)(nil)

// NewClient connects to url, retrying with exponential backoff until
// maxWait elapses or ctx is cancelled.
func NewClient(ctx context.Context, url string, maxWait time.Duration) (*Client, error) {
	log := logger.FromContext(ctx).With(zap.String("nats_url", url))

	opts := []nats.Option{
		nats.Name("leads-router"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = maxWait

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(url, opts...)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("NATS connect failed, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("%w: connect: %w", apperrors.ErrNATS, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream context: %w", apperrors.ErrNATS, err)
	}

	log.Info("Connected to NATS", zap.String("server", nc.ConnectedServerId()))
	return &Client{nc: nc, js: js}, nil
}

func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamConfig.Name))

	stream, err := c.js.StreamInfo(streamConfig.Name)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("%w: stream info %q: %w", apperrors.ErrNATS, streamConfig.Name, err)
	}

	switch {
	case stream == nil:
		if _, err := c.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("%w: add stream %q: %w", apperrors.ErrNATS, streamConfig.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", streamConfig.Subjects))
	case !streamConfigEqual(stream.Config, *streamConfig):
		if _, err := c.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("%w: update stream %q: %w", apperrors.ErrNATS, streamConfig.Name, err)
		}
		log.Info("Updated stream", zap.Strings("subjects", streamConfig.Subjects))
	default:
		log.Debug("Stream up to date")
	}
	return nil
}

func (c *Client) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	log := logger.FromContext(ctx).With(zap.String("stream", streamName), zap.String("consumer", consumerConfig.Durable))

	consumer, err := c.js.ConsumerInfo(streamName, consumerConfig.Durable)
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("%w: consumer info %q: %w", apperrors.ErrNATS, consumerConfig.Durable, err)
	}

	if consumer != nil {
		if consumerConfigEqual(consumer.Config, *consumerConfig) {
			log.Debug("Consumer up to date")
			return nil
		}
		// Most consumer fields are immutable, so drift means delete and re-add.
		log.Warn("Consumer config drifted, recreating")
		if err := c.js.DeleteConsumer(streamName, consumerConfig.Durable); err != nil {
			return fmt.Errorf("%w: delete consumer %q: %w", apperrors.ErrNATS, consumerConfig.Durable, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, consumerConfig); err != nil {
		return fmt.Errorf("%w: add consumer %q: %w", apperrors.ErrNATS, consumerConfig.Durable, err)
	}
	log.Info("Consumer ready",
		zap.String("queue_group", consumerConfig.DeliverGroup),
		zap.String("filter_subject", consumerConfig.FilterSubject),
	)
	return nil
}

func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(subject, group, handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %q: %w", apperrors.ErrNATS, consumer, err)
	}
	return sub, nil
}

func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: publish %q: %w", apperrors.ErrNATS, subject, err)
	}
	return nil
}

func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// streamConfigEqual compares the fields this service sets; the server fills
// in the rest with defaults that would otherwise always differ.
func streamConfigEqual(current, want nats.StreamConfig) bool {
	return current.Name == want.Name &&
		reflect.DeepEqual(current.Subjects, want.Subjects) &&
		current.Storage == want.Storage &&
		current.Retention == want.Retention &&
		current.MaxAge == want.MaxAge
}

func consumerConfigEqual(current, want nats.ConsumerConfig) bool {
	return current.Durable == want.Durable &&
		current.DeliverGroup == want.DeliverGroup &&
		current.FilterSubject == want.FilterSubject &&
		current.AckPolicy == want.AckPolicy &&
		current.AckWait == want.AckWait &&
		current.MaxDeliver == want.MaxDeliver &&
		current.MaxAckPending == want.MaxAckPending &&
		current.DeliverPolicy == want.DeliverPolicy
}
