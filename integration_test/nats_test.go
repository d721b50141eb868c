//go:build integration

package integration_test

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"

	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/internal/events"
	"gitlab.com/timkado/api/leads-router/internal/ingestion"
	"gitlab.com/timkado/api/leads-router/internal/jetstream"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/internal/workerpool"
)

const (
	dlqSubject    = "telegram.dlq"
	eventsSubject = "leads.events"
)

// NATSSuite runs the inbound consumer and the event publisher against a real
// JetStream server.
type NATSSuite struct {
	BaseIntegrationSuite
	client   *jetstream.Client
	raw      *nats.Conn
	pools    []*ants.Pool
	consumer *ingestion.Consumer
	sender   *recordingSender
}

func (s *NATSSuite) SetupTest() {
	s.BaseIntegrationSuite.SetupTest()

	var err error
	s.client, err = jetstream.NewClient(s.Ctx, s.NATSURL, 10*time.Second)
	s.Require().NoError(err)
	s.raw, err = nats.Connect(s.NATSURL)
	s.Require().NoError(err)

	eventsPool, err := workerpool.New("events-test", config.WorkerPoolConfig{PoolSize: 4})
	s.Require().NoError(err)
	inboundPool, err := workerpool.New("inbound-test", config.WorkerPoolConfig{PoolSize: 4})
	s.Require().NoError(err)
	s.pools = []*ants.Pool{eventsPool, inboundPool}

	publisher := events.NewPublisher(s.client, eventsPool, "lead_events_test", eventsSubject)
	s.Require().NoError(publisher.Setup(s.Ctx))

	s.sender = &recordingSender{}
	lifecycle := usecase.NewLifecycleService(s.Repo, s.Repo, nil, publisher, nil)
	inbound := usecase.NewInboundProcessor(s.Repo, s.Repo, lifecycle, usecase.NewDistributor(s.Repo), s.sender, nil)

	s.consumer = ingestion.NewConsumer(s.client, inbound, inboundPool, config.ConsumerNatsConfig{
		Stream:       "telegram_updates_test",
		Consumer:     "leads-router-test",
		QueueGroup:   "leads-router-test",
		Subject:      "telegram.updates.*",
		MaxAge:       time.Hour,
		MaxDeliver:   3,
		AckWait:      5 * time.Second,
		NakBaseDelay: 100 * time.Millisecond,
		NakMaxDelay:  time.Second,
	}, dlqSubject)
	s.Require().NoError(s.consumer.Setup())
	s.Require().NoError(s.consumer.Start())
}

func (s *NATSSuite) TearDownTest() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	for _, p := range s.pools {
		_ = p.ReleaseTimeout(5 * time.Second)
	}
	if s.raw != nil {
		s.raw.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func (s *NATSSuite) publishUpdate(bot string, update model.Update) {
	body, err := json.Marshal(update)
	s.Require().NoError(err)
	s.Require().NoError(s.client.Publish(s.Ctx, "telegram.updates."+bot, body, nil))
}

func (s *NATSSuite) TestInboundUpdateCreatesLead() {
	created := make(chan model.DomainEvent, 4)
	sub, err := s.raw.Subscribe(eventsSubject+".>", func(m *nats.Msg) {
		var ev model.DomainEvent
		if json.Unmarshal(m.Data, &ev) == nil {
			created <- ev
		}
	})
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.publishUpdate(s.Bot.Identifier, model.NewStartUpdate(9001))

	var lead *model.Lead
	s.Eventually(15*time.Second, func() error {
		var err error
		lead, err = s.Repo.FindLeadByChatID(s.Ctx, 9001)
		return err
	})
	s.Equal(model.LeadStatusNew, lead.Status)
	s.Contains(s.OperatorIDs(), lead.AssignedOperatorID)

	select {
	case ev := <-created:
		s.Equal(model.DomainEventLeadCreated, ev.Type)
		s.Equal(lead.ID, ev.LeadID)
	case <-time.After(10 * time.Second):
		s.Fail("no lead.created event published")
	}

	s.publishUpdate(s.Bot.Identifier, model.NewTextUpdate(9001, "price please"))
	s.Eventually(15*time.Second, func() error {
		msgs, err := s.Repo.ListMessages(s.Ctx, lead.ID)
		if err != nil {
			return err
		}
		if len(msgs) != 2 {
			return errors.New("follow-up not stored yet")
		}
		return nil
	})
}

func (s *NATSSuite) TestUnknownBotGoesToDeadLetter() {
	dead := make(chan *nats.Msg, 1)
	sub, err := s.raw.Subscribe(dlqSubject+".>", func(m *nats.Msg) { dead <- m })
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.publishUpdate("ghost_bot", model.NewStartUpdate(1))

	select {
	case m := <-dead:
		s.Equal(dlqSubject+".ghost_bot", m.Subject)
		var payload ingestion.DLQPayload
		s.Require().NoError(json.Unmarshal(m.Data, &payload))
		s.Equal("ghost_bot", payload.BotIdentifier)
		s.NotEmpty(payload.Error)
	case <-time.After(15 * time.Second):
		s.Fail("update for an unknown bot was not dead-lettered")
	}
}
