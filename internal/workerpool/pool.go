// Package workerpool builds the bounded ants pools used by the NATS consumer
// and the lead event publisher.
package workerpool

import (
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const (
	defaultPoolSize = 16
	defaultExpiry   = time.Minute
)

// New returns a pool sized by cfg. With MaxBlock > 0 Submit blocks until a
// worker frees up or MaxBlock callers are already waiting; with MaxBlock <= 0
// Submit fails fast with ants.ErrPoolOverload.
func New(name string, cfg config.WorkerPoolConfig) (*ants.Pool, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	expiry := cfg.ExpiryTime
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	log := logger.Log.Named(name)
	opts := []ants.Option{
		ants.WithExpiryDuration(expiry),
		ants.WithLogger(&antsLogger{log: log}),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("Worker panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
	}
	if cfg.MaxBlock > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(cfg.MaxBlock))
	} else {
		opts = append(opts, ants.WithNonblocking(true))
	}

	pool, err := ants.NewPool(size, opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", name, err)
	}
	log.Info("Worker pool ready", zap.Int("size", size), zap.Int("max_block", cfg.MaxBlock))
	return pool, nil
}

// antsLogger routes ants' Printf logging into zap.
type antsLogger struct {
	log *zap.Logger
}

func (a *antsLogger) Printf(format string, args ...interface{}) {
	a.log.Info(fmt.Sprintf(format, args...))
}
