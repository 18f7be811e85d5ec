package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/alerts"
	"github.com/relayguard/relayguard/internal/api"
	"github.com/relayguard/relayguard/internal/audit"
	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/direct"
	"github.com/relayguard/relayguard/internal/flags"
	"github.com/relayguard/relayguard/internal/gateway"
	"github.com/relayguard/relayguard/internal/health"
	"github.com/relayguard/relayguard/internal/logging"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/reliability"
	"github.com/relayguard/relayguard/internal/router"
	"github.com/relayguard/relayguard/internal/shutdown"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the RelayGuard server",
	Long: `Start the RelayGuard dispatch server.

The server exposes the operation dispatch endpoint, routing and breaker
controls, shutdown/recover triggers and prometheus metrics.

Example:
  relayguard serve --config config.yaml`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	m := metrics.NewMetrics("relayguard")
	breakers := breaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout, cfg.Breaker.HalfOpenMaxCalls)
	flagSource := flags.NewStaticSource(cfg.Flags.Flags)
	notifier := alerts.FromConfig(cfg.Alerts)

	var auditSink audit.Sink = audit.Nop{}
	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewStore(cfg.Audit, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		auditSink = auditStore
		defer auditStore.Close() //nolint:errcheck
	}

	ctl := shutdown.NewController(cfg.Shutdown, breakers, notifier, logger, m)
	defer ctl.Cleanup()

	directClient := direct.NewClient(cfg.Direct, logger)

	gw := gateway.NewRouter(cfg.Gateway, logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Destroy()

	// Automatic recovery waits for the mediated transport to come back.
	ctl.SetHealthProbe(func() bool {
		return gw.GetHealthStatus().IsHealthy
	})

	wrapper := reliability.NewWrapper(cfg.Reliability, gw, auditSink, logger, m)

	probers := map[models.Route]health.Prober{
		models.RouteDirect: health.ProberFunc(func(pctx context.Context, _ models.Route) (models.RouteHealthRecord, error) {
			return directClient.HealthCheck(pctx)
		}),
		models.RouteMediated: health.ProberFunc(func(pctx context.Context, _ models.Route) (models.RouteHealthRecord, error) {
			hs := gw.GetHealthStatus()
			return models.RouteHealthRecord{
				Route:         models.RouteMediated,
				IsHealthy:     hs.IsHealthy,
				Latency:       time.Duration(hs.LatencyMs) * time.Millisecond,
				LastCheckedAt: time.Now(),
			}, nil
		}),
	}
	healthCache := health.NewCache(health.Config{
		TTL:             cfg.Health.CacheTTL,
		ProbeTimeout:    cfg.Health.Timeout,
		RefreshInterval: cfg.Health.Interval,
	}, probers, logger)
	if cfg.Health.Enabled {
		healthCache.Start(ctx)
		defer healthCache.Stop()
	}

	rt, err := router.New(cfg.Router, router.Deps{
		Direct:   directClient,
		Mediated: wrapper,
		Breakers: breakers,
		Health:   healthCache,
		Flags:    flagSource,
		Shutdown: ctl,
		Audit:    auditSink,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// Hot reload swaps the whole rule set and the flag map; a rejected set
	// keeps the previous rules.
	loader.SetOnChange(func(next *config.Config) {
		if err := rt.ReplaceRules(next.Router.Rules); err != nil {
			logger.Error("rejected reloaded routing rules", zap.Error(err))
			return
		}
		flagSource.Replace(next.Flags.Flags)
		logger.Info("configuration reloaded")
	})
	if err := loader.StartWatcher(); err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		defer loader.StopWatcher()
	}

	var auditReader api.AuditReader
	if auditStore != nil {
		auditReader = auditStore
	}
	server := api.NewServer(cfg.Server, api.Deps{
		Router:      rt,
		Gateway:     gw,
		Breakers:    breakers,
		Shutdown:    ctl,
		Reliability: wrapper,
		Audit:       auditReader,
		Metrics:     m,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("relayguard started",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.HTTPPort),
		zap.Int("rules", len(cfg.Router.Rules)))

	sigCh := api.SetupSignalHandler()
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
