package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/config"
	clientmock "gitlab.com/timkado/api/leads-router/internal/jetstream/mock"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

type handlerMock struct {
	mock.Mock
}

func (m *handlerMock) HandleUpdate(ctx context.Context, source, botIdentifier string, update model.Update) (interface{}, error) {
	args := m.Called(ctx, source, botIdentifier, update)
	return args.Get(0), args.Error(1)
}

type fakeAck struct {
	mu       sync.Mutex
	acks     int
	naks     int
	nakDelay time.Duration
}

func (f *fakeAck) Ack(...nats.AckOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAck) Nak(...nats.AckOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.naks++
	return nil
}

func (f *fakeAck) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.naks++
	f.nakDelay = d
	return nil
}

var testCfg = config.ConsumerNatsConfig{
	Stream:       "telegram_updates",
	Consumer:     "leads-router-inbound",
	QueueGroup:   "leads-router",
	Subject:      "telegram.updates.*",
	MaxAge:       72 * time.Hour,
	MaxDeliver:   3,
	AckWait:      30 * time.Second,
	NakBaseDelay: time.Second,
	NakMaxDelay:  10 * time.Second,
}

func setupConsumer(t *testing.T) (*Consumer, *clientmock.ClientMock, *handlerMock) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	client := new(clientmock.ClientMock)
	handler := new(handlerMock)
	return NewConsumer(client, handler, nil, testCfg, "telegram.dlq"), client, handler
}

func startPayload(t *testing.T, chatID int64) []byte {
	t.Helper()
	raw, err := json.Marshal(model.NewStartUpdate(chatID))
	require.NoError(t, err)
	return raw
}

func TestConsumer_Setup(t *testing.T) {
	c, client, _ := setupConsumer(t)

	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "telegram_updates" &&
			len(sc.Subjects) == 1 && sc.Subjects[0] == "telegram.updates.*" &&
			sc.MaxAge == 72*time.Hour &&
			sc.Retention == nats.LimitsPolicy
	})).Return(nil)
	client.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "telegram_updates_dlq" &&
			len(sc.Subjects) == 1 && sc.Subjects[0] == "telegram.dlq.>"
	})).Return(nil)
	client.On("SetupConsumer", mock.Anything, "telegram_updates", mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == "leads-router-inbound" &&
			cc.DeliverGroup == "leads-router" &&
			cc.FilterSubject == "telegram.updates.*" &&
			cc.AckPolicy == nats.AckExplicitPolicy &&
			cc.MaxDeliver == 3 &&
			cc.DeliverSubject != ""
	})).Return(nil)

	require.NoError(t, c.Setup())
	client.AssertExpectations(t)
}

func TestConsumer_SetupStreamError(t *testing.T) {
	c, client, _ := setupConsumer(t)
	client.On("SetupStream", mock.Anything, mock.Anything).Return(apperrors.ErrNATS)

	err := c.Setup()
	assert.ErrorIs(t, err, apperrors.ErrNATS)
	client.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_ProcessAcksOnSuccess(t *testing.T) {
	c, client, handler := setupConsumer(t)
	handler.On("HandleUpdate", mock.Anything, "nats", "acme_bot", mock.AnythingOfType("model.Update")).
		Return(map[string]string{"status": "created"}, nil)

	ack := &fakeAck{}
	c.process("telegram.updates.acme_bot", startPayload(t, 42), "id-1", 1, ack)

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.naks)
	handler.AssertExpectations(t)
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_ProcessNaksRetryableWithBackoff(t *testing.T) {
	c, _, handler := setupConsumer(t)
	handler.On("HandleUpdate", mock.Anything, "nats", "acme_bot", mock.Anything).
		Return(nil, fmt.Errorf("insert lead: %w", apperrors.ErrDatabase))

	ack := &fakeAck{}
	c.process("telegram.updates.acme_bot", startPayload(t, 42), "id-1", 2, ack)

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.naks)
	assert.Equal(t, 2*time.Second, ack.nakDelay)
}

func TestConsumer_ProcessDeadLettersFatal(t *testing.T) {
	c, client, handler := setupConsumer(t)
	handler.On("HandleUpdate", mock.Anything, "nats", "ghost_bot", mock.Anything).
		Return(nil, apperrors.ErrBotNotFound)

	var published DLQPayload
	client.On("Publish", mock.Anything, "telegram.dlq.ghost_bot", mock.Anything, map[string]string{"Original-Nats-Msg-Id": "id-9"}).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(2).([]byte), &published))
		}).Return(nil)

	payload := startPayload(t, 42)
	ack := &fakeAck{}
	c.process("telegram.updates.ghost_bot", payload, "id-9", 1, ack)

	assert.Equal(t, 1, ack.acks, "ACK after the DLQ publish")
	assert.Zero(t, ack.naks)
	assert.Equal(t, "ghost_bot", published.BotIdentifier)
	assert.Equal(t, "fatal", published.ErrorType)
	assert.Contains(t, published.Error, "not found")
	assert.JSONEq(t, string(payload), string(published.OriginalPayload))
}

func TestConsumer_ProcessDeadLettersAfterMaxDeliver(t *testing.T) {
	c, client, handler := setupConsumer(t)
	handler.On("HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.NewRetryable(errors.New("pool exhausted"), "insert"))
	client.On("Publish", mock.Anything, "telegram.dlq.acme_bot", mock.Anything, mock.Anything).Return(nil)

	ack := &fakeAck{}
	c.process("telegram.updates.acme_bot", startPayload(t, 1), "id-1", 3, ack)

	assert.Equal(t, 1, ack.acks)
	client.AssertExpectations(t)
}

func TestConsumer_ProcessNaksWhenDLQPublishFails(t *testing.T) {
	c, client, _ := setupConsumer(t)
	client.On("Publish", mock.Anything, "telegram.dlq.acme_bot", mock.Anything, mock.Anything).Return(apperrors.ErrNATS)

	ack := &fakeAck{}
	c.process("telegram.updates.acme_bot", []byte("{not json"), "", 1, ack)

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.naks)
}

func TestConsumer_ProcessRecoversPanic(t *testing.T) {
	c, _, handler := setupConsumer(t)
	handler.On("HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") })

	ack := &fakeAck{}
	assert.NotPanics(t, func() {
		c.process("telegram.updates.acme_bot", startPayload(t, 1), "", 1, ack)
	})
	assert.Equal(t, 1, ack.naks)
	assert.Equal(t, time.Second, ack.nakDelay)
}

func TestDetermineAckNakAction(t *testing.T) {
	retryable := fmt.Errorf("query: %w", apperrors.ErrDatabase)

	cases := []struct {
		name      string
		err       error
		delivered uint64
		action    AckNakAction
		delay     time.Duration
	}{
		{"success", nil, 1, ActionAck, 0},
		{"first retry", retryable, 1, ActionNakDelay, time.Second},
		{"second retry doubles", retryable, 2, ActionNakDelay, 2 * time.Second},
		{"capped", retryable, 8, ActionNakDelay, 10 * time.Second},
		{"no operator", apperrors.ErrNoEligibleOperator, 1, ActionDLQ, 0},
		{"validation", apperrors.ErrValidation, 1, ActionDLQ, 0},
		{"unknown is fatal", errors.New("weird"), 1, ActionDLQ, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, delay := determineAckNakAction(tc.err, tc.delivered, 10, time.Second, 10*time.Second)
			assert.Equal(t, tc.action, action)
			assert.Equal(t, tc.delay, delay)
		})
	}
}

func TestBotFromSubject(t *testing.T) {
	assert.Equal(t, "acme_bot", botFromSubject("telegram.updates.acme_bot"))
	assert.Equal(t, "", botFromSubject("telegram.updates."))
	assert.Equal(t, "", botFromSubject("nodots"))
}
