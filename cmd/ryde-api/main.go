// README: Entry point; loads config, selects the trip store, wires services and serves HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ryde/internal/config"
	httptransport "ryde/internal/http"
	"ryde/internal/infra"
	"ryde/internal/maps"
	"ryde/internal/modules/feed"
	"ryde/internal/modules/nearby"
	"ryde/internal/modules/pricing"
	"ryde/internal/modules/trip"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ryde-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}

	var (
		store      trip.Store
		subscriber trip.Subscriber
		publisher  trip.Publisher
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := trip.NewMemoryStore()
		store, subscriber = mem, mem
	case config.StorePostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.DB.AutoMigrate {
			if err := infra.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		store = trip.NewPGStore(pool)
	case config.StoreFirestore:
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return err
		}
		defer client.Close()
		fs := trip.NewFirestoreStore(client)
		store, subscriber = fs, fs
	}

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()

		indexed := nearby.NewIndexedStore(store, rdb, logger)
		n, err := indexed.Rebuild(ctx)
		if err != nil {
			return err
		}
		logger.Info("nearby index rebuilt", "requested_trips", n)
		store = indexed

		updates := feed.New(rdb, feed.DefaultChannel, logger)
		publisher = updates
		if subscriber == nil {
			subscriber = updates
		}
	}

	resolver, err := maps.NewResolver(cfg.Maps.APIKey,
		maps.WithTimeout(cfg.Maps.Timeout),
		maps.WithRegion("rw"),
	)
	if err != nil {
		return err
	}
	if cfg.Maps.APIKey == "" {
		logger.Warn("RYDE_MAPS_API_KEY not set; address lookups will fail")
	}

	opts := []trip.Option{
		trip.WithLogger(logger),
		trip.WithNearbyRadius(cfg.Trip.NearbyRadiusKm),
	}
	if publisher != nil {
		opts = append(opts, trip.WithPublisher(publisher))
	}
	if subscriber != nil {
		opts = append(opts, trip.WithSubscriber(subscriber))
	}
	tripSvc := trip.NewService(store, resolver, pricing.NewService(cfg.Trip.Currency), opts...)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Trips:    tripSvc,
		Verifier: verifier,
		Logger:   logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
