package usecase

import (
	"context"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

// Notifier pushes a live event to one operator. It reports whether the event
// was written; callers never fail because an operator is offline.
type Notifier interface {
	Notify(operatorID uint, event model.LiveEvent) bool
}

// EventPublisher hands lead domain events to an asynchronous sink. Publish
// must not block the caller on the network.
type EventPublisher interface {
	Publish(ctx context.Context, event model.DomainEvent)
}

// TelegramSender delivers a text message through a bot.
type TelegramSender interface {
	SendMessage(ctx context.Context, token string, chatID int64, text string) error
}

// BotResolver looks bots up by public identifier or id. Both the cache and the
// repository satisfy it.
type BotResolver interface {
	FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error)
	FindBotByID(ctx context.Context, id uint) (*model.Bot, error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(uint, model.LiveEvent) bool { return false }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.DomainEvent) {}

// Clock returns the current time. Tests swap it for a fixed one.
type Clock func() time.Time

func defaultClock(c Clock) Clock {
	if c == nil {
		return utils.Now
	}
	return c
}
