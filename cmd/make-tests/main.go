// make-tests records a short capture and screenshots the registration viewer
// live and in replay.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"regshots/internal/cli"
	"regshots/internal/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetLogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
