// Command devserver serves generated production data on the dashboard
// backend's stream and pull endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/config"
	"github.com/ersozo/re-dashboard/internal/devserver"
	"github.com/ersozo/re-dashboard/internal/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "Listen address")
	units := flag.String("units", "Line 1,Line 2,Line 3", "Comma-separated unit names")
	token := flag.String("token", "", "Require this bearer token (defaults to RED_TOKEN)")
	push := flag.Duration("push", devserver.DefaultPushInterval, "Interval between stream pushes")
	origins := flag.String("origins", "", "Comma-separated extra allowed WebSocket origins")
	seed := flag.Int64("seed", 0, "Random seed for generated figures (0 picks one)")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", "console", "Log format: json or console")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *token == "" {
		*token = os.Getenv("RED_TOKEN")
	}

	log, err := logger.New(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *addr, devserver.Options{
		Units:          config.SplitList(*units),
		Token:          *token,
		PushInterval:   *push,
		AllowedOrigins: config.SplitList(*origins),
		Seed:           *seed,
		Logger:         log,
	}); err != nil {
		log.Fatal("devserver failed", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger, addr string, opts devserver.Options) error {
	s := devserver.NewServer(opts)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("devserver listening",
			zap.String("addr", addr),
			zap.Strings("units", opts.Units),
			zap.Duration("push", opts.PushInterval))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
