package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/offline-image-cache/internal/config"
	"github.com/Sternrassler/offline-image-cache/pkg/logging"
	"github.com/Sternrassler/offline-image-cache/pkg/persist"
	"github.com/Sternrassler/offline-image-cache/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("imgcache-server", pflag.ExitOnError)
	config.DefineFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load("", flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.LogSettings())
	logger := logging.NewLogger("imgcache-server")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persister, closePersister, err := openPersister(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePersister()

	storeLogger := logging.NewLogger("image-store")
	s, err := store.New(store.Options{
		CacheRoot:        cfg.Store.CacheRoot,
		Persister:        persister,
		Fetch:            cfg.FetchSettings(),
		Logger:           &storeLogger,
		SweepConcurrency: cfg.Store.SweepConcurrency,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := s.Restore(ctx, cfg.StoreSettings()); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}

	srv := newServer(s, persister, cfg.Server.ResolveTimeout.DurationValue(), logger)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("cache_root", cfg.Store.CacheRoot).
			Str("namespace", cfg.Store.Name).
			Str("persistence", cfg.Persistence.Backend).
			Msg("Starting image cache server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Graceful shutdown failed")
	}

	// Let running downloads record their entries before the persister closes.
	s.Wait()
	return nil
}

// openPersister opens the configured persistence backend.
func openPersister(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (persist.Store, func(), error) {
	switch cfg.Persistence.Backend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Persistence.RedisAddr,
			DB:       cfg.Persistence.RedisDB,
			Password: cfg.Persistence.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Persistence.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Persistence.RedisAddr).Msg("Connected to Redis")
		return persist.NewRedisStore(redisClient), func() { redisClient.Close() }, nil

	default:
		db, err := persist.OpenLevelDB(cfg.Persistence.LevelDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb at %s: %w", cfg.Persistence.LevelDBPath, err)
		}
		logger.Info().Str("path", cfg.Persistence.LevelDBPath).Msg("Opened LevelDB")
		return db, func() { db.Close() }, nil
	}
}
