package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"autoblog/internal/aiclient"
	"autoblog/internal/api"
	"autoblog/internal/bundle"
	"autoblog/internal/config"
	"autoblog/internal/content"
	"autoblog/internal/jobs"
	"autoblog/internal/metrics"
	"autoblog/internal/notify"
	"autoblog/internal/providers"
	"autoblog/internal/publisher"
	"autoblog/internal/publisher/blogger"
	"autoblog/internal/publisher/wordpress"
	"autoblog/internal/publishing"
	"autoblog/internal/queue"
	"autoblog/internal/secrets"
	"autoblog/internal/storage"
	"autoblog/internal/storage/dynamo"
	"autoblog/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log.Level)

	if len(os.Args) > 1 && (os.Args[1] == "seal-secret" || os.Args[1] == "reseal-secret") {
		if err := sealSecret(cfg, os.Args[1], os.Args[2:]); err != nil {
			log.Fatal().Err(err).Str("command", os.Args[1]).Msg("secret command failed")
		}
		return
	}

	log.Info().
		Str("mode", cfg.AppMode).
		Str("store", cfg.Store.Driver).
		Str("ai_provider", cfg.AI.Primary).
		Msg("starting autoblog")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := resolveSecrets(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to resolve secrets")
	}

	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	m := metrics.Global()
	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	jobRepo := jobs.NewRepository(records)
	bundles := bundle.NewManager(records)

	dispatcher, err := aiclient.FromConfig(cfg.AI.ProviderConfigs(), providers.Provider(cfg.AI.Primary), aiclient.Config{
		Retry:   cfg.AI.RetryPolicy(),
		Logger:  log.Logger,
		Metrics: m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build ai clients")
	}
	if len(dispatcher.Providers()) == 0 {
		log.Warn().Msg("no ai provider has an api key, generation jobs will fail")
	}

	pubs, err := buildPublishers(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build publishers")
	}

	var notifier publishing.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, nil)
		if err != nil {
			log.Fatal().Str("component", "telegram").Msg(err.Error())
		}
		notifier = tg
		log.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("telegram notifications enabled")
	}

	generation := content.NewService(content.Config{
		Jobs:      jobRepo,
		Bundles:   bundles,
		AI:        dispatcher,
		Queue:     jobQueue,
		Preferred: providers.Provider(cfg.AI.Primary),
		Logger:    log.Logger,
		Metrics:   m,
	})
	publish := publishing.NewService(publishing.Config{
		Jobs:       jobRepo,
		Bundles:    bundles,
		Publishers: pubs,
		Queue:      jobQueue,
		Limiter:    queue.NewRateLimiter(rdb, cfg.Publish.RatePerHour),
		Notifier:   notifier,
		Logger:     log.Logger,
		Metrics:    m,
	})

	errCh := make(chan error, 2)
	var httpServer *http.Server
	workerDone := make(chan struct{})

	if cfg.AppMode == config.ModeAPI || cfg.AppMode == config.ModeAll {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
		mux.Handle("/api/", api.New(api.Config{
			Generation:     generation,
			Publishing:     publish,
			Bundles:        bundles,
			Logger:         log.Logger,
			RequestTimeout: cfg.Publish.Timeout * 2,
		}).Handler())

		httpServer = &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if cfg.AppMode == config.ModeWorker || cfg.AppMode == config.ModeAll {
		w := worker.New(worker.Config{
			Queue:   jobQueue,
			Claimer: queue.NewClaimer(rdb, cfg.Worker.ClaimTTL),
			Handlers: map[jobs.Kind]worker.Executor{
				jobs.KindGeneration: generation,
				jobs.KindPublish:    publish,
			},
			MaxJobRetries: 1,
			ReclaimIdle:   cfg.Worker.ReclaimIdle,
			Logger:        log.Logger,
			Metrics:       m,
		})
		go func() {
			defer close(workerDone)
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
	} else {
		close(workerDone)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop http server")
		}
	}
	// In-flight tasks persist their state before the store and redis close.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker did not drain before shutdown timeout")
	}

	log.Info().Msg("stopped")
}

// resolveSecrets replaces ssm: and enc: settings with their plaintext.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	r := &secrets.Resolver{}
	if cfg.Crypto.Enabled() {
		kr, err := secrets.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			return fmt.Errorf("init keyring: %w", err)
		}
		r.Keyring = kr
	}
	if cfg.AWS.Region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		ps, err := secrets.NewParamStore(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return err
		}
		r.Params = ps
	}
	return r.ResolveAll(ctx, cfg.SecretRefs())
}

func openStore(ctx context.Context, cfg *config.Config) (storage.RecordStore, func(), error) {
	if cfg.Store.Driver == config.StoreDynamo {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		s, err := dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.DynamoTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	s, err := storage.Open(ctx, cfg.Store.DBDriver, cfg.Store.DSN, cfg.Store.AutoMigrate)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func buildPublishers(ctx context.Context, cfg *config.Config) (map[publisher.Platform]publisher.Publisher, error) {
	policy := cfg.Publish.RetryPolicy()

	out := map[publisher.Platform]publisher.Publisher{}
	if cfg.WordPress.Enabled() {
		wp, err := wordpress.New(wordpress.Config{
			BaseURL:  cfg.WordPress.BaseURL,
			Username: cfg.WordPress.User,
			Password: cfg.WordPress.Password,
			Timeout:  cfg.Publish.Timeout,
			Retry:    policy,
			Logger:   log.Logger,
		})
		if err != nil {
			return nil, err
		}
		out[publisher.WordPress] = wp
		log.Info().Str("url", cfg.WordPress.BaseURL).Msg("wordpress publisher configured")
	}
	if cfg.Blogger.Enabled() {
		bg, err := blogger.New(ctx, blogger.Config{
			BlogID:       cfg.Blogger.BlogID,
			ClientID:     cfg.Blogger.ClientID,
			ClientSecret: cfg.Blogger.ClientSecret,
			RefreshToken: cfg.Blogger.RefreshToken,
			Endpoint:     cfg.Blogger.Endpoint,
			Timeout:      cfg.Publish.Timeout,
			Concurrency:  cfg.Blogger.Concurrency,
			Retry:        policy,
			Logger:       log.Logger,
		})
		if err != nil {
			return nil, err
		}
		out[publisher.Blogger] = bg
		log.Info().Str("blog_id", cfg.Blogger.BlogID).Msg("blogger publisher configured")
	}
	return out, nil
}

// sealSecret prints an enc: value for each argument using the current key.
// reseal-secret takes enc: values sealed under any configured key, which is
// how stored secrets move to a rotated key.
func sealSecret(cfg *config.Config, command string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: autoblog %s <value>...", command)
	}
	if !cfg.Crypto.Enabled() {
		return errors.New("no master key configured")
	}
	kr, err := secrets.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		return err
	}
	seal := kr.Seal
	if command == "reseal-secret" {
		seal = kr.Reseal
	}
	for _, v := range args {
		sealed, err := seal(v)
		if err != nil {
			return err
		}
		fmt.Println(sealed)
	}
	return nil
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
