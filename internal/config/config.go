package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autoblog/internal/providers"
	"autoblog/internal/retry"
	"autoblog/internal/secrets"
)

const (
	ModeAll    = "ALL"
	ModeAPI    = "API"
	ModeWorker = "WORKER"

	StoreSQL    = "sql"
	StoreDynamo = "dynamodb"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingDynamoTable = errors.New("DYNAMO_TABLE is required when STORE_DRIVER=dynamodb")
	ErrInvalidStoreDriver = errors.New("STORE_DRIVER must be 'sql' or 'dynamodb'")
	ErrInvalidAIProvider  = errors.New("AI_PROVIDER must be one of claude, openai, gemini, grok")
	ErrMissingMasterKey   = errors.New("an enc: value is configured but no master key is set")
	ErrMissingAWSRegion   = errors.New("AWS_REGION is required for ssm: values or dynamodb storage")
)

type Config struct {
	AppMode string

	AI        AIConfig
	WordPress WordPressConfig
	Blogger   BloggerConfig
	Telegram  TelegramConfig
	Store     StoreConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	HTTP      HTTPConfig
	Publish   PublishConfig
	Crypto    CryptoConfig
	AWS       AWSConfig
	Log       LogConfig
}

type AIConfig struct {
	// Primary is the provider used when a request names none.
	Primary     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Claude ProviderConfig
	OpenAI ProviderConfig
	Gemini ProviderConfig
	Grok   ProviderConfig
}

type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type WordPressConfig struct {
	BaseURL  string
	User     string
	Password string
}

func (w WordPressConfig) Enabled() bool { return w.BaseURL != "" && w.User != "" && w.Password != "" }

type BloggerConfig struct {
	BlogID       string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Endpoint     string
	Concurrency  int
}

func (b BloggerConfig) Enabled() bool {
	return b.BlogID != "" && b.ClientID != "" && b.ClientSecret != "" && b.RefreshToken != ""
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

func (t TelegramConfig) Enabled() bool { return t.BotToken != "" && t.ChatID != 0 }

type StoreConfig struct {
	Driver      string
	DBDriver    string
	DSN         string
	AutoMigrate bool
	DynamoTable string
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	QueueStream string
	QueueGroup  string
	QueueBlock  time.Duration
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	ClaimTTL     time.Duration
	ReclaimIdle  time.Duration
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	ReadTimeout time.Duration
}

type PublishConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	RatePerHour int64
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool { return len(c.Keys) > 0 }

type AWSConfig struct {
	Region string
}

type LogConfig struct {
	Level string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		AppMode: strings.ToUpper(mustEnv("APP_MODE", ModeAll)),
		AI: AIConfig{
			Primary:     strings.ToLower(mustEnv("AI_PROVIDER", "claude")),
			MaxTokens:   mustInt("AI_MAX_TOKENS", providers.DefaultMaxTokens),
			Temperature: mustFloat("AI_TEMPERATURE", providers.DefaultTemperature),
			Timeout:     mustDuration("AI_TIMEOUT", providers.DefaultTimeout),
			MaxRetries:  mustInt("AI_MAX_RETRIES", 3),
			BackoffBase: mustDuration("AI_BACKOFF_BASE", time.Second),
			BackoffMax:  mustDuration("AI_BACKOFF_MAX", 60*time.Second),
			Claude: ProviderConfig{
				APIKey:  mustEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: mustEnv("ANTHROPIC_BASE_URL", ""),
				Model:   mustEnv("CLAUDE_MODEL", ""),
			},
			OpenAI: ProviderConfig{
				APIKey:  mustEnv("OPENAI_API_KEY", ""),
				BaseURL: mustEnv("OPENAI_BASE_URL", ""),
				Model:   mustEnv("OPENAI_MODEL", ""),
			},
			Gemini: ProviderConfig{
				APIKey:  mustEnv("GEMINI_API_KEY", ""),
				BaseURL: mustEnv("GEMINI_BASE_URL", ""),
				Model:   mustEnv("GEMINI_MODEL", ""),
			},
			Grok: ProviderConfig{
				APIKey:  mustEnv("GROK_API_KEY", ""),
				BaseURL: mustEnv("GROK_BASE_URL", ""),
				Model:   mustEnv("GROK_MODEL", ""),
			},
		},
		WordPress: WordPressConfig{
			BaseURL:  strings.TrimSuffix(mustEnv("WP_BASE_URL", ""), "/"),
			User:     mustEnv("WP_APP_USER", ""),
			Password: mustEnv("WP_APP_PASSWORD", ""),
		},
		Blogger: BloggerConfig{
			BlogID:       mustEnv("BLOGGER_BLOG_ID", ""),
			ClientID:     mustEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: mustEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken: mustEnv("GOOGLE_REFRESH_TOKEN", ""),
			Endpoint:     mustEnv("BLOGGER_ENDPOINT", ""),
			Concurrency:  mustInt("BLOGGER_CONCURRENCY", 4),
		},
		Telegram: TelegramConfig{
			BotToken: mustEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   mustInt64("TELEGRAM_CHAT_ID", 0),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(mustEnv("STORE_DRIVER", StoreSQL)),
			DBDriver:    strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "autoblog.db"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
			DynamoTable: mustEnv("DYNAMO_TABLE", ""),
		},
		Redis: RedisConfig{
			Addr:        mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    mustEnv("REDIS_PASSWORD", ""),
			DB:          mustInt("REDIS_DB", 0),
			QueueStream: mustEnv("QUEUE_STREAM", "autoblog:jobs"),
			QueueGroup:  mustEnv("QUEUE_GROUP", "autoblog-workers"),
			QueueBlock:  mustDuration("QUEUE_BLOCK", 5*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 2),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
			ClaimTTL:     mustDuration("CLAIM_TTL", 24*time.Hour),
			ReclaimIdle:  mustDuration("WORKER_RECLAIM_IDLE", 10*time.Minute),
		},
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", ":8000"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			ReadTimeout: mustDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		},
		Publish: PublishConfig{
			Timeout:     mustDuration("PUBLISH_TIMEOUT", 30*time.Second),
			MaxRetries:  mustInt("PUBLISH_MAX_RETRIES", 3),
			BackoffBase: mustDuration("PUBLISH_BACKOFF_BASE", time.Second),
			BackoffMax:  mustDuration("PUBLISH_BACKOFF_MAX", 30*time.Second),
			RatePerHour: mustInt64("PUBLISH_RATE_PER_HOUR", 30),
		},
		AWS: AWSConfig{
			Region: mustEnv("AWS_REGION", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.AppMode != ModeAll && cfg.AppMode != ModeAPI && cfg.AppMode != ModeWorker {
		return nil, fmt.Errorf("unsupported APP_MODE %q", cfg.AppMode)
	}
	if cfg.AI.Primary != "" {
		p, err := providers.ParseProvider(cfg.AI.Primary)
		if err != nil {
			return nil, ErrInvalidAIProvider
		}
		cfg.AI.Primary = string(p)
	}
	switch cfg.Store.Driver {
	case StoreSQL:
		if cfg.Store.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case StoreDynamo:
		if cfg.Store.DynamoTable == "" {
			return nil, ErrMissingDynamoTable
		}
		if cfg.AWS.Region == "" {
			return nil, ErrMissingAWSRegion
		}
	default:
		return nil, ErrInvalidStoreDriver
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	usesSSM, usesEnc := false, false
	for _, v := range cfg.SecretRefs() {
		usesSSM = usesSSM || strings.HasPrefix(*v, secrets.SSMPrefix)
		usesEnc = usesEnc || strings.HasPrefix(*v, secrets.EncPrefix)
	}
	if usesEnc && !cc.Enabled() {
		return nil, ErrMissingMasterKey
	}
	if usesSSM && cfg.AWS.Region == "" {
		return nil, ErrMissingAWSRegion
	}

	return cfg, nil
}

// SecretRefs returns the settings whose values may be ssm: or enc:
// references, keyed by environment variable name.
func (c *Config) SecretRefs() map[string]*string {
	return map[string]*string{
		"ANTHROPIC_API_KEY":    &c.AI.Claude.APIKey,
		"OPENAI_API_KEY":       &c.AI.OpenAI.APIKey,
		"GEMINI_API_KEY":       &c.AI.Gemini.APIKey,
		"GROK_API_KEY":         &c.AI.Grok.APIKey,
		"WP_APP_PASSWORD":      &c.WordPress.Password,
		"GOOGLE_CLIENT_SECRET": &c.Blogger.ClientSecret,
		"GOOGLE_REFRESH_TOKEN": &c.Blogger.RefreshToken,
		"TELEGRAM_BOT_TOKEN":   &c.Telegram.BotToken,
		"REDIS_PASSWORD":       &c.Redis.Password,
		"DB_DSN":               &c.Store.DSN,
	}
}

// ProviderConfigs builds one client config per provider. Providers without
// an API key are included; the dispatcher skips them.
// RetryPolicy is the backoff schedule around each provider call.
func (a AIConfig) RetryPolicy() retry.Policy {
	p := retry.Default().WithMaxRetries(a.MaxRetries)
	p.BaseDelay = a.BackoffBase
	p.MaxDelay = a.BackoffMax
	return p
}

// RetryPolicy is the backoff schedule around each CMS call.
func (p PublishConfig) RetryPolicy() retry.Policy {
	policy := retry.Default().WithMaxRetries(p.MaxRetries)
	policy.BaseDelay = p.BackoffBase
	policy.MaxDelay = p.BackoffMax
	return policy
}

func (a AIConfig) ProviderConfigs() map[providers.Provider]providers.ClientConfig {
	build := func(p ProviderConfig) providers.ClientConfig {
		return providers.ClientConfig{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			MaxTokens:   a.MaxTokens,
			Temperature: a.Temperature,
			Timeout:     a.Timeout,
		}
	}
	return map[providers.Provider]providers.ClientConfig{
		providers.Claude: build(a.Claude),
		providers.OpenAI: build(a.OpenAI),
		providers.Gemini: build(a.Gemini),
		providers.Grok:   build(a.Grok),
	}
}

// loadCryptoConfig collects master keys. Having none is valid as long as
// no setting is an enc: value.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") || k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, errors.New("MASTER_KEY_CURRENT_ID is required when several master keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
