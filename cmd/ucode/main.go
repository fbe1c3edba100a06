package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/John-Wang-0809/ufoo-sub001/internal/cli"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.ExecuteContext(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	cancel()

	if err != nil {
		os.Exit(1)
	}
}
