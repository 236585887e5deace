package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxscribe/internal/access"
	"voxscribe/internal/bot"
	"voxscribe/internal/config"
	"voxscribe/internal/journal"
	"voxscribe/internal/metrics"
	"voxscribe/internal/pipeline"
	"voxscribe/internal/queue"
	"voxscribe/internal/report"
	"voxscribe/internal/server"
	"voxscribe/internal/speechkit"
	"voxscribe/internal/storage"
	"voxscribe/internal/whisper"
	"voxscribe/internal/worker"
	"voxscribe/pkg/cache"
	"voxscribe/pkg/logger"
	"voxscribe/pkg/resilience"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	flag.Parse()

	cfg, cfgErr := config.LoadConfig(*configPath)
	if err := logger.Init(cfgErr == nil && cfg.Log.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Fatal("Failed to load config", zap.Error(cfgErr))
		return
	}

	logger.Info("Starting voxscribe bot service",
		zap.String("engine", cfg.Engine.Backend),
		zap.Int("max_workers", cfg.Worker.MaxWorkers),
		zap.Int("allowed_chats", len(cfg.Access.AllowedChats)),
		zap.Bool("debug", cfg.Log.Debug))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sentryEnabled := initSentry(cfg)
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	m := metrics.NewMetrics()

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize transcription engine", zap.Error(err))
		return
	}

	pool := worker.NewPool(engine, cfg.Worker.MaxWorkers, m)
	limiter := resilience.NewSlidingWindow(cfg.RateLimit.Requests, cfg.RateWindow())
	guard := access.NewGuard(cfg.Access.AllowedChats)

	tb, err := bot.NewTelebot(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize bot", zap.Error(err))
		return
	}
	gateway := bot.NewGateway(bot.NewTeleAPI(tb), cfg.Telegram.SendRate, cfg.Telegram.SendBurst)

	reportOpts := []report.Option{report.WithMetrics(m)}
	if sentryEnabled {
		reportOpts = append(reportOpts, report.WithSentry(sentry.CurrentHub()))
	}
	reporter := report.New(gateway, cfg.Access.AdminID, reportOpts...)

	pipelineOpts := []pipeline.Option{pipeline.WithMetrics(m)}

	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.Warn("Transcript cache disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			pipelineOpts = append(pipelineOpts, pipeline.WithCache(redisCache))
			logger.Info("Redis transcript cache enabled")
		}
	}

	var store journal.TaskStore
	if cfg.Postgres.DSN != "" {
		db, err := storage.NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.MigrationsPath)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
			return
		}
		defer db.Close()
		store = db
		logger.Info("Database connection established")
	}

	var publisher journal.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQ.URL, nil)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
			return
		}
		defer rabbitMQ.Close()
		publisher = rabbitMQ
		logger.Info("RabbitMQ connection established")
	}

	if store != nil || publisher != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithJournal(journal.New(store, publisher)))
	}

	p := pipeline.New(pipeline.Config{
		MessageLimit:     cfg.Limits.MessageLimit,
		MaxVoiceDuration: cfg.Limits.MaxVoiceDuration,
		DownloadDir:      cfg.Worker.DownloadDir,
	}, gateway, pool, limiter, guard, reporter, pipelineOpts...)

	botInstance := bot.NewBot(tb, p)

	var httpServer *server.Server
	if cfg.HTTP.Addr != "" {
		httpServer = server.New(cfg.HTTP.Addr, server.NewRouter(m, pool))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("Starting Telegram bot",
			zap.String("engine", cfg.Engine.Backend),
			zap.Int("workers", pool.Size()))
		botInstance.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down HTTP server", zap.Error(err))
		}
		shutdownCancel()
	}

	// Stop intake first, then let admitted jobs finish before the pool closes.
	botInstance.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	if err := p.Drain(drainCtx); err != nil {
		logger.Warn("Drain timed out, abandoning in-flight jobs", zap.Error(err))
	}
	drainCancel()

	if err := pool.Shutdown(); err != nil {
		logger.Error("Failed to shut down worker pool", zap.Error(err))
	}

	cancel()
	logger.Info("Bot service shutdown complete")
}

func initSentry(cfg *config.Config) bool {
	if cfg.Sentry.DSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
	})
	if err != nil {
		logger.Warn("Sentry disabled", zap.Error(err))
		return false
	}
	logger.Info("Sentry error reporting enabled")
	return true
}

func newEngine(ctx context.Context, cfg *config.Config) (worker.Engine, error) {
	switch cfg.Engine.Backend {
	case config.BackendSpeechKit:
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			return nil, err
		}
		return speechkit.NewClient(speechkit.Config{
			APIKey:       cfg.SpeechKit.APIKey,
			FolderID:     cfg.SpeechKit.FolderID,
			Language:     cfg.SpeechKit.Language,
			PollInterval: cfg.SpeechKit.PollInterval,
			MaxWait:      cfg.SpeechKit.MaxWait,
		}, s3Storage), nil
	default:
		client := whisper.NewClient(whisper.Config{
			URL:           cfg.Whisper.URL,
			Model:         cfg.Whisper.Model,
			Language:      cfg.Whisper.Language,
			InitialPrompt: cfg.Whisper.InitialPrompt,
			Timeout:       cfg.Whisper.Timeout,
			Decoding:      cfg.Whisper.Decoding,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			logger.Warn("Whisper sidecar not reachable yet", zap.String("url", cfg.Whisper.URL), zap.Error(err))
		}
		return client, nil
	}
}
