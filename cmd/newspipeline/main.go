// Command newspipeline runs the local news ingestion service, or a single pipeline task when a one-shot flag is set.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/config"
	"github.com/JakeFAU/localnews-pipeline/internal/server"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Process every due source once and exit")
	sourceID := flag.String("source", "", "Process a single source by ID and exit")
	retry := flag.Int("retry", 0, "Retry up to N articles left without a rewrite and exit")
	sweep := flag.Bool("sweep", false, "Delete captured images past retention and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if !*once && *sourceID == "" && *retry == 0 && !*sweep {
		if err := app.Run(ctx); err != nil {
			app.Logger().Error("application error", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	code := runTask(ctx, app, cfg, *once, *sourceID, *retry, *sweep)
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
	}
	os.Exit(code)
}

func runTask(ctx context.Context, app *server.App, cfg config.Config, once bool, sourceID string, retry int, sweep bool) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		out any
		err error
	)
	switch {
	case sourceID != "":
		out, err = app.Orchestrator().ProcessSource(ctx, sourceID)
	case once:
		out, err = app.Orchestrator().ProcessAll(ctx)
	case retry > 0:
		out, err = app.Orchestrator().RetryPending(ctx, retry)
	case sweep:
		out, err = app.Images().Sweep(ctx, cfg.Retention())
	}
	if err != nil {
		app.Logger().Error("task failed", zap.Error(err))
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		app.Logger().Error("write result failed", zap.Error(err))
		return 1
	}
	return 0
}
