package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"appbridge/internal/retention"
	"appbridge/pkg/bridge"
	"appbridge/pkg/config"
	"appbridge/pkg/logger"
	"appbridge/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	fwd *bridge.SyncBridge  // async echo app behind the sync contract
	rev *bridge.AsyncBridge // sync hello app behind the async contract
	rt  *bridge.SyncBridge  // round trip: rev wrapped back under the sync contract

	stopRetention context.CancelFunc
	srv           *http.Server
}

// New initializes resources that do not require a running context (record
// store, adapters). It does not start the HTTP server; call Run to start
// it and block until shutdown.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if eff.DBPath != "" {
		if err := store.Open(eff.DBPath); err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
		}
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	a.buildAdapters()
	return a, nil
}

// buildAdapters wires the demo applications through both adapters using
// the tunables from config.
func (a *App) buildAdapters() {
	bc := a.eff.Config.Bridge

	var syncOpts []bridge.SyncOption
	if bc.ChunkSize > 0 {
		syncOpts = append(syncOpts, bridge.WithChunkSize(bc.ChunkSize.Int()))
	}
	syncOpts = append(syncOpts, bridge.WithWaitBudget(bc.WaitBudgetOrDefault()))
	a.fwd = bridge.NewSyncBridge(echoApp, syncOpts...)

	var asyncOpts []bridge.AsyncOption
	if bc.Workers > 0 {
		asyncOpts = append(asyncOpts, bridge.WithWorkers(bc.Workers))
	}
	if bc.QueueCapacity > 0 {
		asyncOpts = append(asyncOpts, bridge.WithQueueCapacity(bc.QueueCapacity))
	}
	a.rev = bridge.NewAsyncBridge(helloApp, asyncOpts...)

	// Wrap the reverse adapter back under the sync contract so one
	// request exercises both directions in-process.
	a.rt = bridge.NewSyncBridge(a.rev.Invoke, syncOpts...)
}

// Run starts retention (if enabled) and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.eff.DBPath != "" && a.eff.Config.Access.Retention.Enabled {
		stop, err := retention.Start(ctx, a.eff.Config.Access)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		a.stopRetention = stop
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown releases resources in reverse start order.
func (a *App) shutdown() {
	if a.srv != nil {
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if a.rt != nil {
		_ = a.rt.Close()
	}
	if a.rev != nil {
		_ = a.rev.Close()
	}
	if a.fwd != nil {
		_ = a.fwd.Close()
	}
	if store.Ready() {
		if err := store.Close(); err != nil {
			logger.Warn("store_close_error", "error", err)
		}
	}
	logger.Info("shutdown_complete")
}
