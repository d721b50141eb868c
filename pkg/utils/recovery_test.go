package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zap.ErrorLevel)
	original := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = original })
	return logs
}

func TestSafeGo(t *testing.T) {
	observeLogs(t)

	done := make(chan struct{})
	SafeGo(func() { close(done) }, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function did not run")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var recovered interface{}
	SafeGo(func() {
		panic("boom")
	}, func(r interface{}, _ []byte) {
		recovered = r
		wg.Done()
	})
	wg.Wait()
	assert.Equal(t, "boom", recovered)
}

func TestSafeGoLogsWithoutHandler(t *testing.T) {
	logs := observeLogs(t)

	SafeGo(func() { panic("unhandled") }, nil)

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "[panic] recovered in goroutine", logs.All()[0].Message)
}

func TestWrapWithRecovery(t *testing.T) {
	observeLogs(t)
	ctx := context.Background()

	assert.NoError(t, WrapWithRecovery(ctx, func(context.Context) error { return nil }))

	sentinel := errors.New("plain failure")
	assert.ErrorIs(t, WrapWithRecovery(ctx, func(context.Context) error { return sentinel }), sentinel)

	err := WrapWithRecovery(ctx, func(context.Context) error { panic("bad frame") })
	require.Error(t, err)
	assert.Equal(t, "panic recovered: bad frame", err.Error())
}

func TestRecoverWithLog(t *testing.T) {
	logs := observeLogs(t)

	func() {
		defer RecoverWithLog(context.Background(), "websocket read loop")
		panic("reader crashed")
	}()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[panic] recovered during websocket read loop", logs.All()[0].Message)
}
