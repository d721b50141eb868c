package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, s *Server, path string) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthIsAlwaysUp(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.AddCheck("database", func(context.Context) error { return errors.New("down") })

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body.Status)
}

func TestReadyReportsEveryCheck(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.AddCheck("database", func(context.Context) error { return nil })
	s.AddCheck("nats", func(context.Context) error { return nil })

	code, body := get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body.Status)
	assert.Equal(t, "ok", body.Details["database"])
	assert.Equal(t, "ok", body.Details["nats"])

	s.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	code, body = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT_READY", body.Status)
	assert.Equal(t, "connection refused", body.Details["redis"])
	assert.Equal(t, "ok", body.Details["database"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.RegisterMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())
}
