package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/internal/jetstream"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const (
	source         = "nats"
	maxAckPending  = 1000
	processTimeout = 30 * time.Second
	dlqMaxAge      = 7 * 24 * time.Hour
)

// AckNakAction is the fate of one delivery after processing.
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // processed, ACK
	ActionNakDelay                     // retryable, NAK with backoff
	ActionDLQ                          // fatal or out of attempts, publish to DLQ then ACK
)

// DLQPayload is what lands on the dead-letter subject.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	BotIdentifier   string          `json:"bot_identifier"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"`
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Consumer reads Telegram updates published on telegram.updates.<bot> and
// feeds them through the same path as the webhook.
type Consumer struct {
	client     jetstream.ClientInterface
	handler    UpdateHandler
	pool       *ants.Pool
	cfg        config.ConsumerNatsConfig
	dlqSubject string
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewConsumer(client jetstream.ClientInterface, handler UpdateHandler, pool *ants.Pool, cfg config.ConsumerNatsConfig, dlqSubject string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))
	return &Consumer{
		client:     client,
		handler:    handler,
		pool:       pool,
		cfg:        cfg,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Setup makes sure the inbound stream and the durable push consumer exist.
func (c *Consumer) Setup() error {
	log := logger.FromContext(c.ctx)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    c.cfg.MaxAge,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		return fmt.Errorf("setup inbound stream %q: %w", c.cfg.Stream, err)
	}

	if c.dlqSubject != "" {
		dlqCfg := &nats.StreamConfig{
			Name:      c.cfg.Stream + "_dlq",
			Subjects:  []string{c.dlqSubject + ".>"},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    dlqMaxAge,
		}
		if err := c.client.SetupStream(c.ctx, dlqCfg); err != nil {
			return fmt.Errorf("setup dead-letter stream %q: %w", dlqCfg.Name, err)
		}
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		DeliverSubject: nats.NewInbox(),
		FilterSubject:  c.cfg.Subject,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        c.cfg.AckWait,
		MaxDeliver:     c.cfg.MaxDeliver,
		MaxAckPending:  maxAckPending,
		DeliverPolicy:  nats.DeliverAllPolicy,
		ReplayPolicy:   nats.ReplayInstantPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("setup inbound consumer %q: %w", c.cfg.Consumer, err)
	}

	log.Info("Inbound consumer set up", zap.String("stream", c.cfg.Stream), zap.String("subject", c.cfg.Subject))
	return nil
}

func (c *Consumer) Start() error {
	sub, err := c.client.SubscribePush(c.cfg.Subject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe inbound consumer %q: %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	logger.FromContext(c.ctx).Info("Inbound consumer subscribed", zap.String("group", c.cfg.QueueGroup))
	return nil
}

// Stop drains the subscription; in-flight pool tasks finish on their own.
func (c *Consumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Draining inbound subscription failed", zap.Error(err))
		}
	}
	c.cancel()
	log.Info("Inbound consumer stopped")
}

// dispatch runs on the NATS delivery goroutine and hands the work to the pool.
func (c *Consumer) dispatch(msg *nats.Msg) {
	var numDelivered uint64 = 1
	if meta, err := msg.Metadata(); err == nil {
		numDelivered = meta.NumDelivered
	}

	err := c.pool.Submit(func() {
		c.process(msg.Subject, msg.Data, msgID(msg), numDelivered, msg)
	})
	if err != nil {
		logger.FromContext(c.ctx).Warn("Worker pool rejected update, retrying later", zap.Error(err))
		observer.IncInboundAction(source, "nak_overload", "pool")
		if nakErr := msg.NakWithDelay(c.cfg.NakBaseDelay); nakErr != nil {
			logger.FromContext(c.ctx).Error("NAK after pool rejection failed", zap.Error(nakErr))
		}
	}
}

func (c *Consumer) process(subject string, data []byte, id string, numDelivered uint64, msg acker) {
	start := utils.Now()
	log := logger.FromContext(c.ctx).With(
		zap.String("subject", subject),
		zap.String("nats_message_id", id),
		zap.Uint64("num_delivered", numDelivered),
	)

	var processingErr error
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while processing update", zap.Any("panic", r), zap.Stack("stack"))
			observer.IncInboundAction(source, "nak_panic", "panic")
			if err := msg.NakWithDelay(c.cfg.NakBaseDelay); err != nil {
				log.Error("NAK after panic failed", zap.Error(err))
			}
		}
	}()

	bot := botFromSubject(subject)
	ctx, cancel := context.WithTimeout(logger.WithLogger(c.ctx, log.With(zap.String("bot", bot))), processTimeout)
	defer cancel()

	if bot == "" {
		processingErr = apperrors.NewFatal(apperrors.ErrBadRequest, "no bot identifier in subject %q", subject)
	} else {
		var update model.Update
		if err := json.Unmarshal(data, &update); err != nil {
			processingErr = apperrors.NewFatal(apperrors.ErrBadRequest, "unmarshal update: %v", err)
		} else {
			_, processingErr = c.handler.HandleUpdate(ctx, source, bot, update)
		}
	}

	action, delay := determineAckNakAction(processingErr, numDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errType := "none"
	if processingErr != nil {
		errType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		log.Debug("Update processed", zap.Duration("duration", time.Since(start)))
		observer.IncInboundAction(source, "ack_success", errType)
		if err := msg.Ack(); err != nil {
			log.Error("ACK failed", zap.Error(err))
		}

	case ActionNakDelay:
		log.Info("Retrying update later", zap.Error(processingErr), zap.Duration("nak_delay", delay))
		observer.IncInboundAction(source, "nak_retry", errType)
		if err := msg.NakWithDelay(delay); err != nil {
			log.Error("NAK with delay failed", zap.Error(err))
		}

	case ActionDLQ:
		c.deadLetter(ctx, log, subject, bot, data, id, numDelivered, processingErr, errType, msg)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, log *zap.Logger, subject, bot string, data []byte, id string, numDelivered uint64, processingErr error, errType string, msg acker) {
	kind := "fatal"
	if isRetryable(processingErr) {
		kind = "retryable"
	}
	log.Warn("Sending update to DLQ", zap.Error(processingErr), zap.String("error_class", kind))

	original := json.RawMessage(data)
	if !json.Valid(data) {
		original, _ = json.Marshal(string(data))
	}
	payload, err := json.Marshal(DLQPayload{
		SourceSubject:   subject,
		BotIdentifier:   bot,
		OriginalPayload: original,
		Error:           processingErr.Error(),
		ErrorType:       kind,
		RetryCount:      numDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       utils.Now(),
	})
	if err != nil {
		log.Error("Marshal DLQ payload failed", zap.Error(err))
		observer.IncInboundAction(source, "nak_dlq_marshal_fail", "dlq_marshal_fail")
		_ = msg.Nak()
		return
	}

	dlqSubject := c.dlqSubject
	if bot != "" {
		dlqSubject += "." + bot
	}
	headers := map[string]string{}
	if id != "" {
		headers["Original-Nats-Msg-Id"] = id
	}
	if err := c.client.Publish(ctx, dlqSubject, payload, headers); err != nil {
		log.Error("DLQ publish failed, NAKing original", zap.Error(err), zap.String("dlq_subject", dlqSubject))
		observer.IncInboundAction(source, "nak_dlq_publish_fail", "dlq_publish_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("NAK after DLQ failure failed", zap.Error(nakErr))
		}
		return
	}

	observer.IncInboundAction(source, "dlq_published_ack", errType)
	if err := msg.Ack(); err != nil {
		log.Error("ACK after DLQ publish failed", zap.Error(err))
	}
}

// determineAckNakAction decides what to do with a delivery. Retryable errors
// back off exponentially from base up to maxDelay until maxDeliver attempts.
func determineAckNakAction(processingErr error, numDelivered uint64, maxDeliver int, base, maxDelay time.Duration) (AckNakAction, time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}
	if !isRetryable(processingErr) || (maxDeliver > 0 && numDelivered >= uint64(maxDeliver)) {
		return ActionDLQ, 0
	}

	delay := base
	for i := uint64(1); i < numDelivered && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return ActionNakDelay, delay
}

// isRetryable classifies processing errors. Unknown errors count as fatal.
func isRetryable(err error) bool {
	switch {
	case apperrors.IsRetryable(err):
		return true
	case apperrors.IsFatal(err),
		apperrors.IsValidationError(err),
		apperrors.IsBadRequestError(err),
		apperrors.IsNotFoundError(err),
		apperrors.IsNoEligibleOperatorError(err),
		apperrors.IsForbiddenError(err),
		apperrors.IsLifecycleError(err):
		return false
	case apperrors.IsDatabaseError(err),
		apperrors.IsTimeoutError(err),
		apperrors.IsNATSError(err),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// botFromSubject returns the last token of telegram.updates.<bot>.
func botFromSubject(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return ""
	}
	return subject[i+1:]
}

func msgID(msg *nats.Msg) string {
	if msg.Header != nil {
		if id := msg.Header.Get(nats.MsgIdHdr); id != "" {
			return id
		}
	}
	if meta, err := msg.Metadata(); err == nil {
		return fmt.Sprintf("msg-%d", meta.Sequence.Stream)
	}
	return ""
}
