// Command vigild runs the health-state engine daemon: it loads the engine
// configuration, commits the declared hosts through the config bridge,
// restores retained state, and keeps retention and metrics up to date
// until it is signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigilmon/vigil/internal/config"
	"github.com/vigilmon/vigil/internal/confsync"
	"github.com/vigilmon/vigil/internal/dependency"
	"github.com/vigilmon/vigil/internal/downtime"
	"github.com/vigilmon/vigil/internal/flapping"
	"github.com/vigilmon/vigil/internal/logger"
	"github.com/vigilmon/vigil/internal/metrics"
	"github.com/vigilmon/vigil/internal/objects"
	"github.com/vigilmon/vigil/internal/retention"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "vigil.yaml", "path to engine configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vigild %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigild: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.PrettyLogs)
	defer log.Sync()

	if err := run(cfg, *configPath, log); err != nil {
		log.Fatal("engine failed", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, log *zap.Logger) error {
	globals := objects.DefaultGlobals()
	globals.EnableFlapping = cfg.EnableFlapping

	reg := objects.NewRegistry()
	svcCache := objects.NewServiceCache(reg)
	groups := objects.NewGroupCache(reg)

	bridge := confsync.NewBridge(reg, nil, groups, log)
	bridge.Templates = cfg

	for name, hc := range cfg.Hosts {
		h := hc.Host(name)
		h.FlappingThresholdLow = cfg.FlappingThresholdLow
		h.FlappingThresholdHigh = cfg.FlappingThresholdHigh
		reg.RegisterHost(h)
		if err := bridge.ObjectCommitted(confsync.Event{Type: confsync.TypeHost, Name: name}); err != nil {
			return fmt.Errorf("commit host %s: %w", name, err)
		}
	}

	// Restore retained runtime state now that the entities exist.
	reader := &retention.Reader{Path: cfg.RetentionFile, Registry: reg, Globals: globals}
	if err := reader.Read(); err != nil {
		log.Warn("retention restore failed, starting fresh", zap.Error(err))
	}
	dm := downtime.NewManager(reader.NextDowntimeID, reader.NextCommentID)
	bridge.Downtimes = dm

	detector := flapping.NewDetector(globals)
	resolver := dependency.NewResolver(reg)

	hostCount, svcCount := reg.Counts()
	log.Info("engine started",
		zap.String("version", version),
		zap.Int("hosts", hostCount),
		zap.Int("services", svcCount),
		zap.Bool("flap_detection", globals.EnableFlapping))
	logStateSummary(log, reg, svcCache, resolver, detector)

	writer := &retention.Writer{
		Path:      cfg.RetentionFile,
		Registry:  reg,
		Globals:   globals,
		Downtimes: dm,
		Version:   version,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if cfg.RetentionIntervalSeconds > 0 {
		interval := time.Duration(cfg.RetentionIntervalSeconds) * time.Second
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					// One final write on the way out.
					writeRetention(writer, log)
					return nil
				case <-ticker.C:
					writeRetention(writer, log)
				}
			}
		})
	}

	// Reload runtime switches when the config file changes. Structural
	// changes (hosts added or removed) arrive through the configuration
	// compiler as commit/remove events, not through this path.
	g.Go(func() error {
		return config.Watch(configPath, ctx.Done(), func(next *config.Config) {
			globals.EnableFlapping = next.EnableFlapping
			log.Info("configuration reloaded",
				zap.Bool("flap_detection", next.EnableFlapping))
		}, func(err error) {
			log.Warn("configuration reload skipped", zap.Error(err))
		})
	})

	err := g.Wait()
	log.Info("engine stopped")
	return err
}

func writeRetention(w *retention.Writer, log *zap.Logger) {
	if err := w.Write(); err != nil {
		metrics.RetentionWrites.WithLabelValues("error").Inc()
		log.Error("retention write failed", zap.Error(err))
		return
	}
	metrics.RetentionWrites.WithLabelValues("ok").Inc()
}

// logStateSummary logs the initial reachability picture: handy when
// bringing the engine up against an unfamiliar configuration.
func logStateSummary(log *zap.Logger, reg *objects.Registry, cache *objects.ServiceCache, resolver *dependency.Resolver, detector *flapping.Detector) {
	var unreachable, flappingCount int
	for _, h := range reg.Hosts() {
		if !resolver.IsReachable(h) {
			unreachable++
		}
		if detector.IsFlapping(&h.Checkable) {
			flappingCount++
		}
		for _, svc := range cache.ServicesForHost(h.Name) {
			if detector.IsFlapping(&svc.Checkable) {
				flappingCount++
			}
		}
	}
	if unreachable > 0 || flappingCount > 0 {
		log.Warn("restored problem state",
			zap.Int("unreachable_hosts", unreachable),
			zap.Int("flapping_entities", flappingCount))
	}
}
