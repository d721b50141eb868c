package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const (
	keyPrefix  = "leads-router:bot:"
	defaultTTL = 5 * time.Minute
)

// BotLoader is the source of truth behind the cache.
type BotLoader interface {
	FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error)
	FindBotByID(ctx context.Context, id uint) (*model.Bot, error)
}

// BotCache is a read-through redis cache for bot rows. Webhooks resolve the
// bot on every update, so concurrent misses for one key share a single load.
// Redis being unavailable degrades to direct loads, never to errors.
//
// Bot API tokens never go to redis. They are kept in process memory, keyed
// by bot id, and a redis hit for a bot whose token this process has not seen
// is served from storage.
type BotCache struct {
	rdb    *redis.Client
	loader BotLoader
	ttl    time.Duration
	group  singleflight.Group
	tokens sync.Map // bot id -> token
}

func NewBotCache(rdb *redis.Client, loader BotLoader, ttl time.Duration) *BotCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &BotCache{rdb: rdb, loader: loader, ttl: ttl}
}

// NewRedisClient connects and pings once so startup fails fast on a bad
// address.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// cachedBot is the stored form, without the token.
type cachedBot struct {
	ID         uint   `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	ProjectID  uint   `json:"project_id"`
	AutoReply  string `json:"auto_reply,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	IsActive   bool   `json:"is_active"`
}

func toCached(b *model.Bot) cachedBot {
	return cachedBot{
		ID:         b.ID,
		Identifier: b.Identifier,
		Name:       b.Name,
		ProjectID:  b.ProjectID,
		AutoReply:  b.AutoReply,
		WebhookURL: b.WebhookURL,
		IsActive:   b.IsActive,
	}
}

func (c cachedBot) bot(token string) *model.Bot {
	return &model.Bot{
		ID:         c.ID,
		Identifier: c.Identifier,
		Name:       c.Name,
		ProjectID:  c.ProjectID,
		Token:      token,
		AutoReply:  c.AutoReply,
		WebhookURL: c.WebhookURL,
		IsActive:   c.IsActive,
	}
}

func identifierKey(identifier string) string { return keyPrefix + "ident:" + identifier }
func idKey(id uint) string                  { return keyPrefix + "id:" + strconv.FormatUint(uint64(id), 10) }

func (c *BotCache) FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error) {
	return c.lookup(ctx, "identifier", identifierKey(identifier), func(ctx context.Context) (*model.Bot, error) {
		return c.loader.FindBotByIdentifier(ctx, identifier)
	})
}

func (c *BotCache) FindBotByID(ctx context.Context, id uint) (*model.Bot, error) {
	return c.lookup(ctx, "id", idKey(id), func(ctx context.Context) (*model.Bot, error) {
		return c.loader.FindBotByID(ctx, id)
	})
}

// Invalidate drops both keys of a bot, used after its row changes.
func (c *BotCache) Invalidate(ctx context.Context, bot *model.Bot) {
	c.tokens.Delete(bot.ID)
	if err := c.rdb.Del(ctx, identifierKey(bot.Identifier), idKey(bot.ID)).Err(); err != nil {
		logger.FromContext(ctx).Warn("Bot cache invalidation failed", zap.Uint("bot_id", bot.ID), zap.Error(err))
	}
}

func (c *BotCache) lookup(ctx context.Context, kind, key string, load func(context.Context) (*model.Bot, error)) (*model.Bot, error) {
	log := logger.FromContext(ctx)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cb cachedBot
		if jsonErr := json.Unmarshal(raw, &cb); jsonErr != nil {
			log.Warn("Discarding undecodable bot cache entry", zap.String("key", key))
			observer.IncCacheCheck(kind, "error")
			break
		}
		if token, ok := c.tokens.Load(cb.ID); ok {
			observer.IncCacheCheck(kind, "hit")
			return cb.bot(token.(string)), nil
		}
		observer.IncCacheCheck(kind, "miss_token")
	case errors.Is(err, redis.Nil):
		observer.IncCacheCheck(kind, "miss")
	default:
		log.Warn("Bot cache read failed, loading from storage", zap.String("key", key), zap.Error(err))
		observer.IncCacheCheck(kind, "error")
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		bot, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.tokens.Store(bot.ID, bot.Token)
		c.store(ctx, bot)
		return bot, nil
	})
	if err != nil {
		return nil, err
	}
	bot := *v.(*model.Bot)
	return &bot, nil
}

func (c *BotCache) store(ctx context.Context, bot *model.Bot) {
	payload, err := json.Marshal(toCached(bot))
	if err != nil {
		return
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, identifierKey(bot.Identifier), payload, c.ttl)
	pipe.Set(ctx, idKey(bot.ID), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.FromContext(ctx).Warn("Bot cache write failed", zap.Uint("bot_id", bot.ID), zap.Error(err))
	}
}
