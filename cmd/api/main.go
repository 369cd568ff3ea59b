package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/api"
	"github.com/you/whisperd/internal/config"
	"github.com/you/whisperd/internal/jobs"
	"github.com/you/whisperd/internal/storage"
	"github.com/you/whisperd/internal/transcribe"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init", zap.Error(err))
	}
	defer store.Close()

	pipeline := transcribe.NewPipeline(cfg.FFmpegPath, cfg.WhisperPath)
	proc := jobs.NewProcessor(ctx, store, pipeline, cfg.MaxConcurrentJobs, logger)

	sweeper := jobs.NewSweeper(store, cfg.CleanupInterval, cfg.CleanupMaxAge, cfg.CleanupProcessingMaxAge, logger)
	go sweeper.Run(ctx)

	srv := api.NewServer(store, proc, cfg.MaxUploadBytes, cfg.ModelPath, logger)
	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: srv.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("store_backend", cfg.StoreBackend))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serve", zap.Error(err))
	}

	// let queued and in-flight jobs reach a terminal state
	proc.Wait()
}

func buildStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return storage.NewRedisStore(rdb), nil
	case "postgres":
		if err := migrate(cfg.PostgresDSN); err != nil {
			return nil, err
		}
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return storage.NewPostgresStore(db), nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.Up(db, "migrations")
}

func newLogger(appEnv string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if appEnv == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}
