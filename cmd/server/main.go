package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/atmx/storefront-engine/internal/api"
	"github.com/atmx/storefront-engine/internal/catalog"
	"github.com/atmx/storefront-engine/internal/config"
	"github.com/atmx/storefront-engine/internal/logging"
	"github.com/atmx/storefront-engine/internal/store"
	"github.com/atmx/storefront-engine/internal/storefront"
)

const serviceName = "storefront-engine"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(logging.Options{
		ServiceName: serviceName,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closers, err := openStore(ctx, cfg.Storage, log)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()
	if err != nil {
		return err
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	log.Info().Int("products", cat.Len()).Msg("catalog loaded")

	// --- Change feed ---
	var hub *api.Hub
	var notifier storefront.Notifier
	if cfg.HTTP.WebSocket {
		hub = api.NewHub(log)
		notifier = hub
		go hub.Run(ctx)
	}

	sf, err := storefront.New(ctx, storefront.Params{
		KV:       kv,
		Catalog:  cat,
		Log:      log,
		Notifier: notifier,
		Rates:    cfg.Checkout.Rates(),
		TaxRate:  &cfg.Checkout.TaxRate,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(sf, log), api.RouterOptions{
		Log:            log,
		Hub:            hub,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Storage.Backend).Msg("storefront-engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down storefront-engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("storefront-engine stopped")
	return nil
}

// openStore builds the configured KV backend. Closers are returned even on
// error so partially opened resources are released.
func openStore(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (store.KV, []func() error, error) {
	var closers []func() error

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, closers, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, closers, fmt.Errorf("redis ping: %w", err)
		}
	}

	var kv store.KV
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory store, state will not survive a restart")
		return store.NewMemoryStore(), closers, nil

	case config.BackendRedis:
		log.Info().Str("namespace", cfg.RedisNamespace).Msg("using redis store")
		return store.NewRedisStore(rdb, cfg.RedisNamespace), closers, nil

	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, s.Close)
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		kv = s

	case config.BackendPostgres:
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, closers, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, closers, fmt.Errorf("database connection failed: %w", err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		log.Info().Msg("using postgres store")
		kv = store.NewPostgresStore(pool)

	default:
		return nil, closers, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if rdb != nil {
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("redis read-through cache enabled")
		kv = store.NewCachedStore(kv, rdb, cfg.CacheTTL)
	}
	return kv, closers, nil
}
