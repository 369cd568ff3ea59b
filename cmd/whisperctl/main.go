package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/you/whisperd/internal/config"
	"github.com/you/whisperd/internal/gateway"
	"github.com/you/whisperd/internal/poller"
)

// whisperctl submits one media file through the gateway and watches the
// job until it reaches an outcome.
func main() {
	server := flag.String("server", "http://localhost:8080", "gateway base URL")
	language := flag.String("language", "", "transcription language (empty for auto-detect)")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: whisperctl [-server url] [-language xx] <media-file>")
	}
	path := flag.Arg(0)

	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxy := gateway.NewProxy(gateway.Config{
		UpstreamURL:     *server,
		MaxConns:        cfg.PoolMaxConns,
		MaxConnsPerHost: cfg.PoolMaxPerHost,
		IdleConnTimeout: cfg.PoolIdleTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
	}, logger)

	submitted, err := submit(ctx, proxy, path, *language)
	if err != nil {
		logger.Fatal("submit", zap.Error(err))
	}
	fmt.Printf("submitted job %s\n", submitted.ID)

	watcher := poller.New(proxy.Poll, poller.Config{
		InitialInterval:  cfg.PollInitialInterval,
		MaxInterval:      cfg.PollMaxInterval,
		BackoffIncrement: cfg.PollBackoffIncrement,
		MaxDuration:      cfg.PollMaxDuration,
		StallThreshold:   cfg.PollStallThreshold,
		ErrorTolerance:   cfg.PollErrorTolerance,
	}, logger)

	outcome := watcher.Watch(ctx, submitted.ID)
	switch outcome.Kind {
	case poller.KindCompleted:
		fmt.Println(outcome.Result.Text)
	case poller.KindFailed:
		fmt.Fprintf(os.Stderr, "transcription failed: %s\n", outcome.Message)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", outcome.Kind, outcome.Message)
		os.Exit(1)
	}
}

// submit streams the file as a multipart upload without buffering it in
// memory.
func submit(ctx context.Context, proxy *gateway.Proxy, path, language string) (gateway.SubmitResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return gateway.SubmitResult{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	params := url.Values{}
	if language != "" {
		params.Set("language", language)
	}
	return proxy.Submit(ctx, pr, mw.FormDataContentType(), params)
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
