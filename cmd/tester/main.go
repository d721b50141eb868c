package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/auth"
	"gitlab.com/timkado/api/leads-router/internal/config"
	"gitlab.com/timkado/api/leads-router/internal/jetstream"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

const (
	targetHTTP = "http"
	targetNATS = "nats"

	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// conversation is one simulated Telegram user: a /start followed by a few
// follow-up messages on the same chat.
type conversation struct {
	Bot       string
	ChatID    int64
	Followups int
}

// updateSink delivers one update for a bot.
type updateSink func(ctx context.Context, bot string, update model.Update) error

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	mode := "load"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Leads router tester\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [load|mint|seed] [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  load  simulate Telegram users over the webhook or NATS\n")
		fmt.Fprintf(os.Stderr, "  mint  print an operator access token\n")
		fmt.Fprintf(os.Stderr, "  seed  create a project with bots and operators\n\n")
		fs.PrintDefaults()
	}

	switch mode {
	case "load":
		opts := loadFlags(fs, cfg)
		parse(fs, args, *logLevel)
		runLoad(cfg, opts)
	case "mint":
		username := fs.String("username", "", "Operator username (token subject)")
		ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime")
		parse(fs, args, *logLevel)
		if *username == "" {
			logger.Log.Fatal("mint needs -username")
		}
		token, err := auth.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Algorithm, nil).Mint(*username, *ttl)
		if err != nil {
			logger.Log.Fatal("Failed to mint token", zap.Error(err))
		}
		fmt.Println(token)
	case "seed":
		project := fs.String("project", gofakeit.Company(), "Project name")
		bots := fs.String("bots", "", "Comma-separated bot identifiers (random when empty)")
		botToken := fs.String("bot-token", "", "Telegram token for every seeded bot (fake when empty)")
		operators := fs.Int("operators", 3, "Number of manager operators to create")
		parse(fs, args, *logLevel)
		runSeed(cfg, *project, splitList(*bots), *botToken, *operators)
	default:
		fs.Usage()
		os.Exit(2)
	}
}

func parse(fs *flag.FlagSet, args []string, level string) {
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	// -log-level may have changed during Parse, so look it up again.
	if f := fs.Lookup("log-level"); f != nil {
		level = f.Value.String()
	}
	if err := logger.Initialize(level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

type loadOptions struct {
	target      *string
	baseURL     *string
	natsURL     *string
	subject     *string
	secret      *string
	bots        *string
	rate        *int
	duration    *time.Duration
	concurrency *int
	followups   *int
	metricsPort *int
}

func loadFlags(fs *flag.FlagSet, cfg *config.Config) loadOptions {
	return loadOptions{
		target:      fs.String("target", targetHTTP, "Delivery path: http (webhook) or nats (inbound stream)"),
		baseURL:     fs.String("base-url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "Router base URL for webhook posts"),
		natsURL:     fs.String("url", cfg.NATS.URL, "NATS server URL"),
		subject:     fs.String("subject", "telegram.updates", "Inbound subject prefix; the bot identifier is appended"),
		secret:      fs.String("secret", cfg.Telegram.WebhookSecret, "Webhook secret header value"),
		bots:        fs.String("bots", "", "Comma-separated bot identifiers to target"),
		rate:        fs.Int("rate", 10, "New conversations per second"),
		duration:    fs.Duration("duration", time.Minute, "Load test duration"),
		concurrency: fs.Int("concurrency", 10, "Number of concurrent workers"),
		followups:   fs.Int("followups", 2, "Messages sent after /start in each conversation"),
		metricsPort: fs.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint"),
	}
}

func runLoad(cfg *config.Config, opts loadOptions) {
	defer logger.Sync()

	bots := splitList(*opts.bots)
	if len(bots) == 0 {
		logger.Log.Fatal("No bot identifiers provided (-bots)")
	}
	if *opts.rate <= 0 {
		logger.Log.Fatal("Rate must be positive")
	}

	observer.InitMetrics(true)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := startMetricsServer(*opts.metricsPort)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	var sink updateSink
	switch *opts.target {
	case targetHTTP:
		sink = httpSink(strings.TrimRight(*opts.baseURL, "/"), *opts.secret)
	case targetNATS:
		client, err := jetstream.NewClient(ctx, *opts.natsURL, 10*time.Second)
		if err != nil {
			logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *opts.natsURL), zap.Error(err))
		}
		defer client.Close()
		sink = natsSink(client, *opts.subject)
	default:
		logger.Log.Fatal("Unknown target", zap.String("target", *opts.target))
	}

	logger.Log.Info("Starting load generator",
		zap.String("target", *opts.target),
		zap.Strings("bots", bots),
		zap.Int("rate_per_sec", *opts.rate),
		zap.Duration("duration", *opts.duration),
		zap.Int("concurrency", *opts.concurrency),
		zap.Int("followups", *opts.followups),
	)

	gofakeit.Seed(time.Now().UnixNano())

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*opts.concurrency, func(data interface{}) {
		defer wg.Done()
		converse(ctx, sink, data.(conversation))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	runLoadLoop(ctx, *opts.rate, *opts.duration, bots, *opts.followups, pool, &wg)

	logger.Log.Info("Waiting for active conversations to complete...")
	wg.Wait()
	logger.Log.Info("Load generator finished")
}

// runLoadLoop submits one conversation per tick until the duration elapses
// or ctx is cancelled.
func runLoadLoop(ctx context.Context, rate int, duration time.Duration, bots []string, followups int, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	timer := time.NewTimer(duration)
	defer timer.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load loop stopping on signal")
			return
		case <-timer.C:
			logger.Log.Info("Load loop finished its duration", zap.Int("conversations", n))
			return
		case <-ticker.C:
			conv := conversation{
				Bot:       bots[n%len(bots)],
				ChatID:    gofakeit.Int64()&0x7fffffffff + 1,
				Followups: followups,
			}
			wg.Add(1)
			if err := pool.Invoke(conv); err != nil {
				wg.Done()
				logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
				observer.IncLoadgenRequest("start", err)
			}
		}
	}
}

func converse(ctx context.Context, sink updateSink, c conversation) {
	err := sink(ctx, c.Bot, model.NewStartUpdate(c.ChatID))
	observer.IncLoadgenRequest("start", err)
	if err != nil {
		logger.Log.Debug("Start update failed", zap.String("bot", c.Bot), zap.Int64("chat_id", c.ChatID), zap.Error(err))
		return
	}
	for i := 0; i < c.Followups; i++ {
		err := sink(ctx, c.Bot, model.NewTextUpdate(c.ChatID, ""))
		observer.IncLoadgenRequest("message", err)
		if err != nil {
			logger.Log.Debug("Follow-up update failed", zap.String("bot", c.Bot), zap.Int64("chat_id", c.ChatID), zap.Error(err))
		}
	}
}

func httpSink(baseURL, secret string) updateSink {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, bot string, update model.Update) error {
		body, err := json.Marshal(update)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/webhook/"+bot, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(secretHeader, secret)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var result struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return err
		}
		if !result.OK {
			return errors.New(result.Error)
		}
		return nil
	}
}

func natsSink(client jetstream.ClientInterface, prefix string) updateSink {
	return func(ctx context.Context, bot string, update model.Update) error {
		body, err := json.Marshal(update)
		if err != nil {
			return err
		}
		return client.Publish(ctx, prefix+"."+bot, body, nil)
	}
}

func runSeed(cfg *config.Config, projectName string, identifiers []string, token string, operators int) {
	defer logger.Sync()

	repo, err := storage.NewPostgresRepo(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() { _ = repo.Close(ctx) }()

	gofakeit.Seed(time.Now().UnixNano())
	if len(identifiers) == 0 {
		identifiers = []string{model.NewBot().Identifier}
	}

	bots := make([]*model.Bot, 0, len(identifiers))
	for _, id := range identifiers {
		bots = append(bots, model.NewBot(func(b *model.Bot) {
			b.ID = 0
			b.Identifier = id
			if token != "" {
				b.Token = token
			}
		}))
	}
	ops := make([]*model.Operator, 0, operators)
	for i := 0; i < operators; i++ {
		ops = append(ops, model.NewOperator(func(o *model.Operator) { o.ID = 0 }))
	}
	project := &model.Project{Name: projectName}

	if err := repo.SeedDirectory(ctx, project, bots, ops); err != nil {
		logger.Log.Fatal("Failed to seed directory", zap.Error(err))
	}

	logger.Log.Info("Seeded project", zap.Uint("project_id", project.ID), zap.String("name", project.Name))
	for _, b := range bots {
		logger.Log.Info("Seeded bot", zap.Uint("id", b.ID), zap.String("identifier", b.Identifier))
	}
	for _, o := range ops {
		logger.Log.Info("Seeded operator", zap.Uint("id", o.ID), zap.String("username", o.Username))
	}
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()
	return server
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
