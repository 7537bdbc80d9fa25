package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/racepool/engine/internal/config"
	"github.com/racepool/engine/internal/engine"
	"github.com/racepool/engine/internal/store"
	"github.com/racepool/engine/pkg/cache"
	"github.com/racepool/engine/pkg/common/logger"
	"github.com/racepool/engine/pkg/events"
	"github.com/racepool/engine/pkg/kvstore"
	"github.com/racepool/engine/pkg/rng"
	"github.com/racepool/engine/pkg/scheduler"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Round outcome & settlement engine",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to config file")

	rootCmd.AddCommand(runCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(&logger.Options{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
	})
	logger.Info("Config loaded", "path", configPath)

	kv, err := kvstore.NewBadgerStore(cfg.Storage.Path, "engine")
	if err != nil {
		return err
	}

	opts := []store.LayeredOption{store.WithCacheTTL(cfg.Cache.TTL)}
	if cfg.Cache.Addr != "" {
		c, err := cache.NewRedis(cfg.Cache.Addr, cfg.Cache.Password)
		if err != nil {
			logger.Warn("Cache tier unavailable, running without it", "addr", cfg.Cache.Addr, "err", err)
		} else {
			opts = append(opts, store.WithCache(c))
		}
	}
	repo := store.NewLayered(store.NewPersistent(kv), opts...)
	defer repo.Close()

	var emitter events.Emitter = events.NopEmitter{}
	if cfg.NATS.URL != "" {
		conn, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Warn("NATS unavailable, events disabled", "url", cfg.NATS.URL, "err", err)
		} else {
			emitter = events.NewNATSEmitter(conn, cfg.NATS.SubjectPrefix)
		}
	}
	defer emitter.Close()

	gen := rng.New()
	if seed, _ := cfg.Engine.SeedWords(); seed != nil {
		logger.Warn("RNG seed override active; audit/test use only")
		gen.Reseed(*seed)
	}

	margin, err := cfg.Engine.Margin()
	if err != nil {
		return err
	}

	mgr, err := engine.New(engine.Config{
		BettingWindow: cfg.Engine.BettingWindow,
		RaceDuration:  cfg.Engine.RaceDuration,
		DisplayDelay:  cfg.Engine.DisplayDelay,
		Margin:        margin,
		Fallback:      cfg.Engine.Fallback(),
	}, repo, emitter, scheduler.New(), gen)
	if err != nil {
		return err
	}

	if err := mgr.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("Engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	mgr.Stop()
	return nil
}
