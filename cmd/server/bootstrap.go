package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/campusync/internal/api"
	"github.com/charlesng35/campusync/internal/app"
	"github.com/charlesng35/campusync/internal/app/maintenance"
	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/database"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/monitoring/checks"
	"github.com/charlesng35/campusync/internal/offline"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/realtime"
	"github.com/charlesng35/campusync/internal/services"
	"github.com/charlesng35/campusync/internal/store"
	"github.com/charlesng35/campusync/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Bolt       *store.BoltStore
	Store      store.Store
	Runtime    *offline.Runtime
	Portal     *services.Portal
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine

	unbridge func()
}

// bootstrapRuntime initialises the store, the offline runtime, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := stack.openStore(cfg); err != nil {
		return nil, err
	}

	if cfg.Monitoring.Prometheus.Enabled || cfg.Monitoring.Health.Enabled {
		stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
		if err != nil {
			return nil, fmt.Errorf("initialise monitoring: %w", err)
		}
		monitoring.SetModule(stack.Monitoring)
	}

	sender, err := queue.NewHTTPSender(
		queue.BearerClient(ctx, cfg.Queue.AuthToken, cfg.Queue.DeliveryTimeout),
		queue.WithBaseURL(cfg.Queue.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise sender: %w", err)
	}

	stack.Runtime, err = offline.NewRuntime(ctx, stack.Store, sender, offline.Options{
		Queue:        cfg.QueueSettings(),
		Connectivity: connectivityOptions(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise runtime: %w", err)
	}

	stack.Portal, err = services.NewPortal(stack.Runtime, services.PortalOptions{CacheTTL: cfg.Cache.DefaultTTL})
	if err != nil {
		return nil, fmt.Errorf("initialise portal: %w", err)
	}

	stack.Hub = realtime.NewHub()
	stack.unbridge = stack.Hub.Bridge(stack.Runtime.Bus)

	stack.registerHealthChecks(cfg)

	stack.Runtime.Start(ctx)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Runtime.Cache, stack.Runtime.Queue,
			maintenance.WithCacheMaxAge(cfg.Cache.MaxAge),
			maintenance.WithCacheSweepSchedule(cfg.Maintenance.CacheSweep),
			maintenance.WithQueuePruneSchedule(cfg.Maintenance.QueuePrune),
			maintenance.WithQueueFlushSchedule(cfg.Maintenance.QueueFlush),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:     cfg,
		Runtime:    stack.Runtime,
		Portal:     stack.Portal,
		Hub:        stack.Hub,
		Monitoring: stack.Monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) openStore(cfg *app.Config) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	quota := cfg.Store.QuotaBytes

	switch {
	case driver == "memory":
		s.Store = store.NewMemoryStore(store.WithQuota(quota))
	case driver == "bolt":
		bolt, err := store.OpenBoltStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
		s.Bolt = bolt
		s.Store = store.NewQuotaStore(bolt, quota)
	case cfg.UsesDatabase():
		db, err := initialiseDatabase(cfg)
		if err != nil {
			return err
		}
		s.DB = db
		s.Store = store.NewQuotaStore(store.NewDatabaseStore(db), quota)
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	logger.WithModule("store").Info("store opened", zap.String("driver", driver), zap.Int64("quota_bytes", quota))
	return nil
}

func connectivityOptions(cfg *app.Config) []connectivity.Option {
	opts := []connectivity.Option{
		connectivity.WithInitialStatus(connectivity.Status{IsOnline: cfg.Connectivity.AssumeOnline}),
	}
	if url := strings.TrimSpace(cfg.Connectivity.ProbeURL); url != "" {
		prober := connectivity.NewProber(&http.Client{}, url, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
		opts = append(opts, connectivity.WithSource(prober))
	}
	return opts
}

func (s *runtimeStack) registerHealthChecks(cfg *app.Config) {
	if s.Monitoring == nil || !cfg.Monitoring.Health.Enabled {
		return
	}
	health := s.Monitoring.Health()
	if s.DB != nil {
		health.RegisterLiveness(checks.Database(s.DB, 0))
	}
	health.RegisterReadiness(checks.Store(s.Store, cfg.Store.QuotaBytes, 0))
	health.RegisterReadiness(checks.Connectivity(s.Runtime.Monitor))
	if cfg.Maintenance.Enabled {
		health.RegisterReadiness(checks.Maintenance(0))
	}
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown run failed", zap.Error(err))
		}
	}

	if s.unbridge != nil {
		s.unbridge()
	}

	if s.Runtime != nil {
		s.Runtime.Close()
	}

	if s.Monitoring != nil && monitoring.CurrentModule() == s.Monitoring {
		monitoring.SetModule(nil)
	}

	if s.Bolt != nil {
		if err := s.Bolt.Close(); err != nil {
			log.Warn("failed to close bolt store", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}
