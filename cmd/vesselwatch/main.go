package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yash/vesselwatch/internal/api"
	"github.com/yash/vesselwatch/internal/config"
	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/feed"
	"github.com/yash/vesselwatch/internal/geofence"
	"github.com/yash/vesselwatch/internal/ingest"
	"github.com/yash/vesselwatch/internal/service"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/internal/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vesselwatch: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "vesselwatch: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)
	cfg.Runtime.Apply()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vesselwatch stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("vesselwatch stopped")
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App owns every long-running component.
type App struct {
	config config.Config
	logger *slog.Logger

	store      store.Store
	closeStore func() error
	bus        *events.Broadcaster
	reconciler *ingest.Reconciler
	processor  *ingest.Processor
	feed       *feed.Client
	api        *api.Server
	server     *http.Server
}

// NewApp wires the components. The store is opened and seeded here so a
// bad DSN fails before anything listens.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger, closeStore: func() error { return nil }}

	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store, a.closeStore = db, db.Close
	default:
		a.store = store.NewMemory()
	}

	if cfg.Store.SeedZones {
		n, err := store.Seed(ctx, a.store)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("seeding zones: %w", err)
		}
		if n > 0 {
			logger.Info("seeded zones", "count", n)
		}
	}

	a.bus = events.NewBroadcaster(events.WithLogger(logger))
	gf := geofence.NewEvaluator(a.store, a.bus, geofence.WithLogger(logger))

	a.reconciler = ingest.NewReconciler(a.store, gf, a.bus,
		ingest.WithStaging(ingest.NewStaging(cfg.Ingest.StagingTTL, logger)),
		ingest.WithReconcilerLogger(logger),
	)
	a.processor = ingest.NewProcessor(a.reconciler, cfg.Ingest.ProcessorConfig(), logger)

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithLogger(logger))
	if cfg.Feed.Enabled {
		client, err := feed.NewClient(cfg.Feed.ClientConfig(), feed.WithLogger(logger))
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("creating feed client: %w", err)
		}
		a.feed = client
		apiOpts = append(apiOpts, api.WithFeedState(func() string { return client.State().String() }))
	}

	tracker := service.New(a.store, a.bus, gf, service.WithLogger(logger))
	a.api = api.NewServer(tracker, a.bus, apiOpts...)
	a.server = &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Run serves until ctx is done or a component fails. A feed that exhausts
// its reconnect budget stops ingestion but leaves the query API up.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.reconciler.Staging().Run(gctx)
	})

	if a.feed != nil {
		frames := make(chan feed.Envelope, a.config.Feed.Buffer)
		g.Go(func() error {
			defer close(frames)
			err := a.feed.Run(gctx, frames)
			if errors.Is(err, feed.ErrUpstreamExhausted) {
				a.logger.Error("ingestion stopped", "err", err)
				return nil
			}
			return err
		})
		g.Go(func() error {
			return a.processor.Run(gctx, frames)
		})
	} else {
		a.logger.Info("ingestion disabled")
	}

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.api.SetReady(false)
		a.logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Streams end first so Shutdown does not wait on them.
		a.bus.Close()
		if err := a.server.Shutdown(sctx); err != nil {
			a.logger.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	a.api.SetReady(true)
	a.logger.Info("vesselwatch ready",
		"store", a.config.Store.Driver,
		"ingestion", a.feed != nil,
		"workers", a.config.Ingest.Workers,
	)

	err := g.Wait()
	if cerr := a.closeStore(); cerr != nil {
		a.logger.Warn("closing store", "err", cerr)
	}
	return err
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
