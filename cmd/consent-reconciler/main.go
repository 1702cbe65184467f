package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tuckkiez/consent-dashboard/internal/auth"
	"github.com/tuckkiez/consent-dashboard/internal/cmp"
	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/export"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
	"github.com/tuckkiez/consent-dashboard/internal/metrics"
	"github.com/tuckkiez/consent-dashboard/internal/pipeline"
	"github.com/tuckkiez/consent-dashboard/internal/scheduler"
	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
	"github.com/tuckkiez/consent-dashboard/internal/web"
)

func main() {
	cfg := config.MustLoad()

	logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	metrics.Init("consent_reconciler")
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	store := newStore(cfg, log)
	defer store.Close()

	cache, err := export.NewCache(cfg.Cache.Dir)
	if err != nil {
		log.Error("failed to create export cache", "error", err)
		os.Exit(1)
	}

	cmpTokens := auth.NewClientCredentials(cfg.CMP.TokenURL, cfg.CMP.ClientID, cfg.CMP.ClientSecret, "")
	idpTokens := auth.NewClientCredentials(cfg.Export.TokenURL, cfg.Export.ClientID, cfg.Export.ClientSecret, cfg.Export.Audience)

	consents := cmp.NewClient(cfg.CMP, cfg.Mapping, cmpTokens)
	exports := export.NewClient(cfg.Export, cfg.Mapping, idpTokens, cache, export.RealClock{})

	p := pipeline.New(consents, exports, store, cfg.Mapping)

	sched := scheduler.New(cfg.Batch, p.RunDailyBatch)
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Error("scheduler failed", "error", err)
		}
	}()

	server := web.NewServer(p, store, cache)
	if err := server.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
		log.Error("api server failed", "error", err)
		os.Exit(1)
	}

	log.Info("consent reconciler stopped cleanly")
}

// newStore picks the snapshot backend: Postgres when a DSN is configured,
// otherwise an in-process store.
func newStore(cfg config.Config, log *slog.Logger) snapshot.Store {
	if cfg.Store.PostgresDSN == "" {
		log.Warn("no SNAPSHOT_DSN configured, using in-memory snapshot store")
		return snapshot.NewMemoryStore()
	}

	store, err := snapshot.NewPostgresStore(cfg.Store.PostgresDSN)
	if err != nil {
		log.Error("failed to connect snapshot store", "error", err)
		os.Exit(1)
	}
	return store
}
