package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatvault/chatvault/internal/audit"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/db"
	"github.com/chatvault/chatvault/internal/groupsync"
	"github.com/chatvault/chatvault/internal/handlers"
	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/logger"
	"github.com/chatvault/chatvault/internal/media"
	"github.com/chatvault/chatvault/internal/record"
	"github.com/chatvault/chatvault/internal/server"
	"github.com/chatvault/chatvault/internal/storage"
	"github.com/chatvault/chatvault/internal/storage/providers/localfs"
	"github.com/chatvault/chatvault/internal/storage/providers/s3"
	"github.com/chatvault/chatvault/internal/telegram"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRepository,
			provideStorageBackend,
			provideBot,
			provideFileSource,
			provideTransferEngine,
			provideDetector,
			provideHistoryTracker,
			provideSynchronizer,
			provideGroupQueue,
			provideAuditSink,
			provideOrchestrator,
			provideRedriveJob,
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideRecordsHandler),
			provideServer,
		),
		fx.Invoke(
			startRedriveJob,
			startGroupQueue,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRepository(conn *pgxpool.Pool) *record.PGRepository {
	return record.NewPGRepository(conn)
}

func provideStorageBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "localfs":
		return localfs.New(cfg.Storage.LocalFS.Root, cfg.Storage.LocalFS.PublicBaseURL)
	case "s3":
		return s3.New(context.Background(), cfg.Storage.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func provideBot(log *slog.Logger, cfg config.Config) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	log.Info("telegram bot authorized", slog.String("username", bot.Self.UserName))
	return bot, nil
}

func provideFileSource(log *slog.Logger, bot *tgbotapi.BotAPI, cfg config.Config) media.FileSource {
	return telegram.NewFileAPI(log, bot, cfg.Telegram.BotToken)
}

func provideTransferEngine(log *slog.Logger, source media.FileSource, backend storage.Backend, cfg config.Config) *media.Engine {
	return media.NewEngine(log, source, backend, media.EngineConfig{
		MaxAttempts:    cfg.Transfer.MaxAttempts,
		BackoffBase:    time.Duration(cfg.Transfer.BackoffMs) * time.Millisecond,
		BackoffCap:     time.Duration(cfg.Transfer.BackoffCapMs) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.Transfer.TimeoutSec) * time.Second,
	})
}

func provideDetector(log *slog.Logger, repo *record.PGRepository, backend storage.Backend) *media.Detector {
	return media.NewDetector(log, repo, backend)
}

func provideHistoryTracker(log *slog.Logger, repo *record.PGRepository) *record.HistoryTracker {
	return record.NewHistoryTracker(log, repo)
}

func provideSynchronizer(log *slog.Logger, repo *record.PGRepository, sink audit.Sink) *groupsync.Synchronizer {
	return groupsync.NewSynchronizer(log, repo, sink)
}

func provideGroupQueue(log *slog.Logger, synchronizer *groupsync.Synchronizer, cfg config.Config) *groupsync.Queue {
	delay := time.Duration(cfg.GroupSync.InitialDelayMs) * time.Millisecond
	return groupsync.NewQueue(log, synchronizer, delay, cfg.GroupSync.Workers)
}

func provideAuditSink(log *slog.Logger, conn *pgxpool.Pool) audit.Sink {
	return audit.NewPGSink(log, conn)
}

func provideOrchestrator(
	log *slog.Logger,
	repo *record.PGRepository,
	engine *media.Engine,
	detector *media.Detector,
	tracker *record.HistoryTracker,
	queue *groupsync.Queue,
	sink audit.Sink,
) *ingest.Orchestrator {
	return ingest.NewOrchestrator(log, repo, repo, engine, detector, tracker, queue, sink)
}

func provideRedriveJob(log *slog.Logger, orchestrator *ingest.Orchestrator, cfg config.Config) (*ingest.RedriveJob, error) {
	return ingest.NewRedriveJob(log, orchestrator, cfg.Redrive.Schedule, cfg.Redrive.Batch)
}

func provideHealthHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, conn)
}

func provideWebhookHandler(log *slog.Logger, orchestrator *ingest.Orchestrator, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, orchestrator, cfg.Telegram.WebhookSecret)
}

func provideRecordsHandler(log *slog.Logger, repo *record.PGRepository, orchestrator *ingest.Orchestrator) *handlers.RecordsHandler {
	return handlers.NewRecordsHandler(log, repo, orchestrator)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers)
}

func startRedriveJob(lc fx.Lifecycle, job *ingest.RedriveJob) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { job.Start(); return nil },
		OnStop:  func(ctx context.Context) error { job.Stop(); return nil },
	})
}

func startGroupQueue(lc fx.Lifecycle, queue *groupsync.Queue) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { queue.Close(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("server starting", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
