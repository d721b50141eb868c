package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage/memory"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

type sentCall struct {
	Token  string
	ChatID int64
	Text   string
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sentCall
}

func (f *fakeSender) SendMessage(_ context.Context, token string, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCall{Token: token, ChatID: chatID, Text: text})
	return nil
}

func (f *fakeSender) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[uint][]model.LiveEvent
}

func (n *recordingNotifier) Notify(operatorID uint, ev model.LiveEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = make(map[uint][]model.LiveEvent)
	}
	n.events[operatorID] = append(n.events[operatorID], ev)
	return true
}

func (n *recordingNotifier) For(operatorID uint) []model.LiveEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.LiveEvent(nil), n.events[operatorID]...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// steppingClock advances one second per call so ordering assertions are
// deterministic.
func steppingClock(start time.Time) Clock {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

const (
	testProjectID = uint(10)
	testBotID     = uint(20)
	testBotIdent  = "acme_bot"
	testBotToken  = "123456:secret"
)

type fixture struct {
	store       *memory.Store
	sender      *fakeSender
	notifier    *recordingNotifier
	publisher   *recordingPublisher
	distributor *Distributor
	lifecycle   *LifecycleService
	inbound     *InboundProcessor
	relay       *Relay
	stats       *StatsService

	admin     identity.Identity
	operators []model.Operator
}

// newFixture seeds one project with one bot and three managers (ids 1, 2, 3).
func newFixture(t *testing.T, mutateBot ...func(*model.Bot)) *fixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	store := memory.New()
	store.AddProject(model.Project{ID: testProjectID, Name: "Acme"})

	bot := model.NewBot(func(b *model.Bot) {
		b.ID = testBotID
		b.Identifier = testBotIdent
		b.ProjectID = testProjectID
		b.Token = testBotToken
		b.AutoReply = ""
	})
	for _, m := range mutateBot {
		m(bot)
	}
	store.AddBot(*bot)

	f := &fixture{
		store:     store,
		sender:    &fakeSender{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		admin:     identity.Identity{OperatorID: 99, Username: "root", Role: identity.RoleAdmin},
	}
	store.AddOperator(model.Operator{ID: 99, Username: "root", Role: identity.RoleAdmin, IsActive: true})
	for _, id := range []uint{1, 2, 3} {
		op := *model.NewOperator(func(o *model.Operator) { o.ID = id })
		store.AddOperator(op, testProjectID)
		f.operators = append(f.operators, op)
	}

	clock := steppingClock(time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC))
	f.distributor = NewDistributor(store)
	f.lifecycle = NewLifecycleService(store, store, f.notifier, f.publisher, clock)
	f.inbound = NewInboundProcessor(store, store, f.lifecycle, f.distributor, f.sender, clock)
	f.relay = NewRelay(store, store, f.sender, f.lifecycle)
	f.stats = NewStatsService(store, clock)
	return f
}

func (f *fixture) manager(id uint) identity.Identity {
	return identity.Identity{OperatorID: id, Username: "m", Role: identity.RoleManager}
}

// startLead opens a lead for chatID and returns it.
func (f *fixture) startLead(t *testing.T, chatID int64) *model.Lead {
	t.Helper()
	res, err := f.inbound.HandleStart(context.Background(), testBotIdent, chatID, model.SenderProfile{Username: "lead"})
	if err != nil {
		t.Fatalf("start lead: %v", err)
	}
	lead, err := f.store.FindLeadByID(context.Background(), res.LeadID)
	if err != nil {
		t.Fatalf("load lead: %v", err)
	}
	return lead
}

func (f *fixture) messages(t *testing.T, leadID uint) []model.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), leadID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}
