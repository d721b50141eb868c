package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const (
	methodSendMessage = "sendMessage"
	methodSetWebhook  = "setWebhook"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client talks to the Telegram Bot API. Requests are throttled per bot token
// and carry a hard timeout. Tokens never appear in returned errors or logs.
type Client struct {
	baseURL string
	http    *http.Client
	secret  string

	limit    rate.Limit
	burst    int
	limiters sync.Map
}

func NewClient(cfg config.TelegramConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		secret:  cfg.WebhookSecret,
		limit:   limit,
		burst:   burst,
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	AllowedUpdates []string `json:"allowed_updates"`
	SecretToken    string   `json:"secret_token,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// SendMessage delivers text to chatID through the bot identified by token.
// Any failure wraps apperrors.ErrDeliveryFailed.
func (c *Client) SendMessage(ctx context.Context, token string, chatID int64, text string) error {
	err := c.call(ctx, token, methodSendMessage, sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDeliveryFailed, err)
	}
	return nil
}

// SetWebhook points the bot at webhookURL, subscribing to messages only.
func (c *Client) SetWebhook(ctx context.Context, token, webhookURL string) error {
	return c.call(ctx, token, methodSetWebhook, setWebhookRequest{
		URL:            webhookURL,
		AllowedUpdates: []string{"message"},
		SecretToken:    c.secret,
	})
}

func (c *Client) limiter(token string) *rate.Limiter {
	if l, ok := c.limiters.Load(token); ok {
		return l.(*rate.Limiter)
	}
	l, _ := c.limiters.LoadOrStore(token, rate.NewLimiter(c.limit, c.burst))
	return l.(*rate.Limiter)
}

func (c *Client) call(ctx context.Context, token, method string, payload interface{}) (err error) {
	startTime := utils.Now()
	defer func() {
		observer.ObserveTelegramRequest(method, utils.Now().Sub(startTime), err)
	}()

	if token == "" {
		return errors.New("bot token is empty")
	}
	if err := c.limiter(token).Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", method, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", method, redact(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed apiResponse
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		return fmt.Errorf("%s: telegram returned %d: %s", method, resp.StatusCode, truncate(string(data)))
	}
	if resp.StatusCode >= http.StatusBadRequest || !parsed.OK {
		logger.FromContext(ctx).Debug("Telegram API rejected request",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.String("description", parsed.Description))
		return fmt.Errorf("%s: telegram returned %d: %s", method, resp.StatusCode, parsed.Description)
	}
	return nil
}

// redact strips the request URL, which embeds the bot token, from transport
// errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
