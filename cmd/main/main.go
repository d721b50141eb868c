package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/timkado/api/leads-router/internal/api"
	"gitlab.com/timkado/api/leads-router/internal/auth"
	"gitlab.com/timkado/api/leads-router/internal/cache"
	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/internal/events"
	"gitlab.com/timkado/api/leads-router/internal/healthcheck"
	"gitlab.com/timkado/api/leads-router/internal/ingestion"
	"gitlab.com/timkado/api/leads-router/internal/jetstream"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/realtime"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/internal/telegram"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/internal/workerpool"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const (
	natsConnectTimeout     = 30 * time.Second
	webhookRegisterTimeout = time.Minute
)

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting leads router",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	if err := run(cfg); err != nil {
		logger.Log.Error("Leads router exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Log.Info("Leads router shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewPostgresRepo(cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize postgres repository: %w", err)
	}
	defer closeRepo(repo)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.HealthPort), logger.Log)
	healthServer.AddCheck("database", repo.Ping)
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}

	// Bot lookups go through redis when enabled.
	var (
		bots        usecase.BotResolver = repo
		invalidator usecase.BotInvalidator
	)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		botCache := cache.NewBotCache(rdb, repo, cfg.Redis.BotTTL)
		bots, invalidator = botCache, botCache
		healthServer.AddCheck("redis", redisCheck(rdb))
	}

	var (
		publisher usecase.EventPublisher
		jsClient  *jetstream.Client
		pools     []*ants.Pool
	)
	// Pools drain before NATS closes so queued events still go out.
	defer func() {
		for _, p := range pools {
			if err := p.ReleaseTimeout(5 * time.Second); err != nil {
				logger.Log.Warn("[shutdown] Worker pool did not drain", zap.Error(err))
			}
		}
		if jsClient != nil {
			jsClient.Close()
		}
	}()
	if cfg.NATS.Enabled {
		jsClient, err = jetstream.NewClient(ctx, cfg.NATS.URL, natsConnectTimeout)
		if err != nil {
			return err
		}
		healthServer.AddCheck("nats", func(context.Context) error {
			if !jsClient.Connected() {
				return errors.New("not connected")
			}
			return nil
		})

		eventsPool, err := workerpool.New("events", cfg.WorkerPools.Events)
		if err != nil {
			return err
		}
		pools = append(pools, eventsPool)
		eventPublisher := events.NewPublisher(jsClient, eventsPool, cfg.NATS.EventsStream, cfg.NATS.EventsSubject)
		if err := eventPublisher.Setup(ctx); err != nil {
			return err
		}
		publisher = eventPublisher
	}

	tg := telegram.NewClient(cfg.Telegram)
	hub := realtime.NewHub(cfg.Notifier.WriteTimeout)

	distributor := usecase.NewDistributor(repo)
	lifecycle := usecase.NewLifecycleService(repo, repo, hub, publisher, nil)
	inbound := usecase.NewInboundProcessor(bots, repo, lifecycle, distributor, tg, nil)
	relay := usecase.NewRelay(repo, bots, tg, lifecycle)
	stats := usecase.NewStatsService(repo, nil)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Inbound:   inbound,
		Lifecycle: lifecycle,
		Relay:     relay,
		Stats:     stats,
		Hub:       hub,
		Auth:      auth.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Algorithm, repo),
	}, api.Options{
		WebhookSecret:    cfg.Telegram.WebhookSecret,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
		WebhookBurst:     cfg.Server.WebhookBurst,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		PingInterval:     cfg.Notifier.PingInterval,
	})
	apiServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var consumer *ingestion.Consumer
	if cfg.NATS.Enabled && cfg.NATS.Inbound.Enabled {
		inboundPool, err := workerpool.New("inbound", cfg.WorkerPools.Inbound)
		if err != nil {
			return err
		}
		pools = append(pools, inboundPool)
		consumer = ingestion.NewConsumer(jsClient, inbound, inboundPool, cfg.NATS.Inbound, cfg.NATS.DLQSubject)
		if err := consumer.Setup(); err != nil {
			return err
		}
	}

	healthServer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("API server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if consumer != nil {
		if err := consumer.Start(); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	if cfg.Telegram.RegisterWebhooks {
		g.Go(func() error {
			regCtx, cancel := context.WithTimeout(gctx, webhookRegisterTimeout)
			defer cancel()
			registrar := usecase.NewWebhookRegistrar(repo, tg, invalidator, cfg.BaseURL)
			if _, err := registrar.RegisterAll(regCtx); err != nil {
				logger.Log.Warn("Some webhooks were not registered", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if consumer != nil {
			consumer.Stop()
		}
		hub.CloseAll()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] API server", zap.Error(err))
		}
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Health server", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func redisCheck(rdb *redis.Client) healthcheck.Checker {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func closeRepo(repo *storage.PostgresRepo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.Close(ctx); err != nil {
		logger.Log.Error("[shutdown] Closing PostgreSQL connection", zap.Error(err))
	}
}
