package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/poller"
	"github.com/jameshartig/evergyd/pkg/publisher"
	"github.com/jameshartig/evergyd/pkg/server"
	"github.com/jameshartig/evergyd/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	client := evergy.Configured()
	db := storage.Configured()
	pub := publisher.Configured()
	p := poller.Configured(client, db, pub)

	// init server
	srv := server.Configured(client, db, p)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
		if err := pub.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close publisher", "error", err)
		}
	}()

	// Run the poller and the server until either fails or the context is
	// canceled. The first error cancels the other.
	errChan := make(chan error, 2)
	go func() {
		errChan <- p.Run(ctx)
	}()
	go func() {
		errChan <- srv.Run(ctx)
	}()

	err := <-errChan
	cancel()
	if other := <-errChan; err == nil {
		err = other
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "daemon failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "daemon exited cleanly")
}
