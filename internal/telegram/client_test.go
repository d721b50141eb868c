package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/config"
)

const testToken = "123456:ABC-secret"

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.TelegramConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.TelegramConfig{APIBaseURL: srv.URL, Timeout: time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func TestSendMessage(t *testing.T) {
	var got sendMessageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	err := client.SendMessage(context.Background(), testToken, 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, sendMessageRequest{ChatID: 42, Text: "hello"}, got)
}

func TestSendMessage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "telegram rejects",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			},
			want: "bot was blocked",
		},
		{
			name: "ok false with 200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
			},
			want: "chat not found",
		},
		{
			name: "non json body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`<html>bad gateway</html>`))
			},
			want: "502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			err := client.SendMessage(context.Background(), testToken, 1, "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrDeliveryFailed)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, err.Error(), testToken)
		})
	}
}

func TestSendMessage_TimeoutHidesToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, func(c *config.TelegramConfig) { c.Timeout = 20 * time.Millisecond })

	err := client.SendMessage(context.Background(), testToken, 1, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDeliveryFailed)
	assert.NotContains(t, err.Error(), testToken)
}

func TestSetWebhook(t *testing.T) {
	var got setWebhookRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/setWebhook", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}, func(c *config.TelegramConfig) { c.WebhookSecret = "s3cr3t" })

	err := client.SetWebhook(context.Background(), testToken, "https://example.com/webhook/acme_bot")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/webhook/acme_bot", got.URL)
	assert.Equal(t, []string{"message"}, got.AllowedUpdates)
	assert.Equal(t, "s3cr3t", got.SecretToken)
}

func TestLimiterPerToken(t *testing.T) {
	client := NewClient(config.TelegramConfig{APIBaseURL: "http://unused", RateLimit: 1, RateBurst: 1})

	a := client.limiter("a")
	assert.Same(t, a, client.limiter("a"))
	assert.NotSame(t, a, client.limiter("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	assert.Error(t, a.Wait(ctx), "second call within the window must wait past the deadline")
}
