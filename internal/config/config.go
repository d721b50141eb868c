package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gitlab.com/timkado/api/leads-router/internal/validator"
)

// Config holds all configuration for the service.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel" validate:"oneof=debug info warn error"`
	// BaseURL is the public origin Telegram posts webhooks to.
	BaseURL string `mapstructure:"baseURL"`

	Server struct {
		Port            int           `mapstructure:"port" validate:"gt=0"`
		HealthPort      int           `mapstructure:"healthPort" validate:"gt=0"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		// WebhookRateLimit is the per-IP requests/second allowed on /webhook.
		WebhookRateLimit float64 `mapstructure:"webhookRateLimit"`
		WebhookBurst     int     `mapstructure:"webhookBurst"`
		// AllowedOrigins feeds CORS; "*" allows any origin.
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`

	Database DatabaseConfig `mapstructure:"database"`

	JWT struct {
		Secret    string `mapstructure:"secret" validate:"required"`
		Algorithm string `mapstructure:"algorithm" validate:"oneof=HS256 HS384 HS512"`
		// ExpirationDays only applies to tokens minted by cmd/tester.
		ExpirationDays int `mapstructure:"expirationDays"`
	} `mapstructure:"jwt"`

	Telegram TelegramConfig `mapstructure:"telegram"`

	Redis struct {
		Enabled bool          `mapstructure:"enabled"`
		Addr    string        `mapstructure:"addr"`
		DB      int           `mapstructure:"db"`
		BotTTL  time.Duration `mapstructure:"botTTL"`
	} `mapstructure:"redis"`

	NATS NATSConfig `mapstructure:"nats"`

	Notifier struct {
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
		PingInterval time.Duration `mapstructure:"pingInterval"`
	} `mapstructure:"notifier"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	WorkerPools struct {
		Inbound WorkerPoolConfig `mapstructure:"inbound"`
		Events  WorkerPoolConfig `mapstructure:"events"`
	} `mapstructure:"workerPools"`
}

type DatabaseConfig struct {
	PostgresDSN     string        `mapstructure:"postgresDSN" validate:"required"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type TelegramConfig struct {
	APIBaseURL       string        `mapstructure:"apiBaseURL" validate:"required,url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        float64       `mapstructure:"rateLimit"`
	RateBurst        int           `mapstructure:"rateBurst"`
	WebhookSecret    string        `mapstructure:"webhookSecret"`
	RegisterWebhooks bool          `mapstructure:"registerWebhooks"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// Inbound updates published by an upstream gateway instead of webhooks.
	Inbound ConsumerNatsConfig `mapstructure:"inbound"`
	// DLQSubject receives inbound updates that failed permanently.
	DLQSubject string `mapstructure:"dlqSubject"`
	// EventsStream/EventsSubject carry lead lifecycle events for downstream consumers.
	EventsStream  string `mapstructure:"eventsStream"`
	EventsSubject string `mapstructure:"eventsSubject"`
}

// ConsumerNatsConfig holds the JetStream consumer settings.
type ConsumerNatsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"`
	QueueGroup   string        `mapstructure:"group"`
	Subject      string        `mapstructure:"subject"`
	MaxAge       time.Duration `mapstructure:"maxAge"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	AckWait      time.Duration `mapstructure:"ackWait"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// WorkerPoolConfig sizes an ants pool.
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`
	MaxBlock   int           `mapstructure:"maxBlock"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

// LoadConfig reads .env (if present), the optional yaml file, then environment variables.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/leads-router")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	// Names used by existing deployments of the bot backend.
	legacyEnv := map[string]string{
		"DATABASE_URL":        "database.postgresDSN",
		"JWT_SECRET_KEY":      "jwt.secret",
		"JWT_ALGORITHM":       "jwt.algorithm",
		"BASE_URL":            "baseURL",
		"PORT":                "server.port",
		"LOG_LEVEL":           "logLevel",
		"NATS_URL":            "nats.url",
		"REDIS_ADDR":          "redis.addr",
		"TELEGRAM_API_URL":    "telegram.apiBaseURL",
		"JWT_EXPIRATION_DAYS": "jwt.expirationDays",
	}
	for env, key := range legacyEnv {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validator.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("baseURL", "http://localhost:8000")

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.healthPort", 8081)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("server.webhookRateLimit", 50.0)
	v.SetDefault("server.webhookBurst", 100)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("database.autoMigrate", true)
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)

	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.expirationDays", 7)

	v.SetDefault("telegram.apiBaseURL", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", 10*time.Second)
	// Bot API allows roughly 30 messages/second per bot token.
	v.SetDefault("telegram.rateLimit", 25.0)
	v.SetDefault("telegram.rateBurst", 5)
	v.SetDefault("telegram.registerWebhooks", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.botTTL", 5*time.Minute)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.inbound.enabled", false)
	v.SetDefault("nats.inbound.stream", "telegram_updates")
	v.SetDefault("nats.inbound.consumer", "leads-router-inbound")
	v.SetDefault("nats.inbound.group", "leads-router")
	v.SetDefault("nats.inbound.subject", "telegram.updates.*")
	v.SetDefault("nats.inbound.maxAge", 72*time.Hour)
	v.SetDefault("nats.inbound.maxDeliver", 5)
	v.SetDefault("nats.inbound.ackWait", 30*time.Second)
	v.SetDefault("nats.inbound.nakBaseDelay", time.Second)
	v.SetDefault("nats.inbound.nakMaxDelay", time.Minute)
	v.SetDefault("nats.dlqSubject", "telegram.dlq")
	v.SetDefault("nats.eventsStream", "lead_events")
	v.SetDefault("nats.eventsSubject", "leads.events")

	v.SetDefault("notifier.writeTimeout", 5*time.Second)
	v.SetDefault("notifier.pingInterval", 30*time.Second)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("workerPools.inbound.poolSize", 16)
	v.SetDefault("workerPools.inbound.maxBlock", 1000)
	v.SetDefault("workerPools.inbound.expiryTime", time.Minute)
	v.SetDefault("workerPools.events.poolSize", 8)
	v.SetDefault("workerPools.events.maxBlock", 10000)
	v.SetDefault("workerPools.events.expiryTime", time.Minute)
}

// bindEnvs walks the struct and binds every leaf key so AutomaticEnv sees
// nested values during Unmarshal.
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}
		_ = v.BindEnv(strings.Join(path, "."))
	}
}
