package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const webhookRegistrationConcurrency = 4

// WebhookSetter points a bot's Telegram webhook at a URL.
type WebhookSetter interface {
	SetWebhook(ctx context.Context, token, webhookURL string) error
}

// BotInvalidator drops cached bot rows after they change.
type BotInvalidator interface {
	Invalidate(ctx context.Context, bot *model.Bot)
}

// WebhookRegistrar registers {baseURL}/webhook/{identifier} for every
// active bot at startup.
type WebhookRegistrar struct {
	bots        storage.DirectoryRepo
	setter      WebhookSetter
	invalidator BotInvalidator
	baseURL     string
}

// NewWebhookRegistrar accepts a nil invalidator when no cache is in front of
// the directory.
func NewWebhookRegistrar(bots storage.DirectoryRepo, setter WebhookSetter, invalidator BotInvalidator, baseURL string) *WebhookRegistrar {
	return &WebhookRegistrar{
		bots:        bots,
		setter:      setter,
		invalidator: invalidator,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

func (r *WebhookRegistrar) URLFor(identifier string) string {
	return r.baseURL + "/webhook/" + identifier
}

// RegisterAll returns the number of bots registered. One bot failing does not
// stop the others; all failures are joined into the returned error.
func (r *WebhookRegistrar) RegisterAll(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	if r.baseURL == "" {
		return 0, errors.New("webhook registration needs a base URL")
	}

	bots, err := r.bots.ListActiveBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active bots: %w", err)
	}

	var (
		mu       sync.Mutex
		failures []error
		done     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(webhookRegistrationConcurrency)
	for i := range bots {
		bot := bots[i]
		g.Go(func() error {
			err := r.register(gctx, &bot)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("Webhook registration failed", zap.String("bot", bot.Identifier), zap.Error(err))
				failures = append(failures, fmt.Errorf("bot %s: %w", bot.Identifier, err))
				return nil
			}
			done++
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Webhooks registered", zap.Int("registered", done), zap.Int("failed", len(failures)))
	return done, errors.Join(failures...)
}

func (r *WebhookRegistrar) register(ctx context.Context, bot *model.Bot) error {
	url := r.URLFor(bot.Identifier)
	if err := r.setter.SetWebhook(ctx, bot.Token, url); err != nil {
		return err
	}
	if bot.WebhookURL == url {
		return nil
	}
	if err := r.bots.UpdateBotWebhookURL(ctx, bot.ID, url); err != nil {
		return fmt.Errorf("store webhook url: %w", err)
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(ctx, bot)
	}
	return nil
}
