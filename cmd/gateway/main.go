package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/you/whisperd/internal/config"
	"github.com/you/whisperd/internal/gateway"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy := gateway.NewProxy(gateway.Config{
		UpstreamURL:     cfg.UpstreamURL,
		MaxConns:        cfg.PoolMaxConns,
		MaxConnsPerHost: cfg.PoolMaxPerHost,
		IdleConnTimeout: cfg.PoolIdleTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
	}, logger)

	handler := gateway.NewHandler(proxy, logger)
	httpSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.GatewayAddr),
		zap.String("upstream", cfg.UpstreamURL))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serve", zap.Error(err))
	}
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
