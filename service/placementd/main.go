package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ocprom "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/metric/metricproducer"

	"github.com/gridsynapse/placement/internal/biz"
	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/dispatch"
	"github.com/gridsynapse/placement/internal/handler"
	"github.com/gridsynapse/placement/internal/scope"
	"github.com/gridsynapse/placement/internal/snapshot"
	"github.com/gridsynapse/placement/libs/xklib/kcommon"
	"github.com/gridsynapse/placement/libs/xklib/klogging"
	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
	"github.com/gridsynapse/placement/placementjson"
)

// Env:
//   - LOG_LEVEL (info), LOG_FORMAT (json)
//   - API_PORT (8080), METRICS_PORT (9090)
//   - CONFIG_FILE: yaml or json config, optional
//   - SNAPSHOT_FILE: serve one static scope from a snapshot json instead of etcd
//   - PLACEMENT_ETCD_ROOT (/placement), ETCD_ENDPOINTS (see etcdprov)
func main() {
	ctx := context.Background()
	logLevel := kcommon.GetEnvString("LOG_LEVEL", "info")
	logFormat := kcommon.GetEnvString("LOG_FORMAT", "json")
	logrusLogger := klogging.NewLogrusLogger(ctx).WithMetricsReporter(&logMetricsReporter{})
	logrusLogger.SetConfig(ctx, logLevel, logFormat)
	klogging.SetDefaultLogger(logrusLogger)
	klogging.Info(ctx).With("logLevel", logLevel).With("logFormat", logFormat).Log("LogLevelSet", "")
	klogging.Info(ctx).With("version", biz.GetVersion()).With("sessionId", biz.GetSessionId()).Log("ServerStarting", "starting placementd")

	cfg := config.DefaultPlacementConfig()
	if path := kcommon.GetEnvString("CONFIG_FILE", ""); path != "" {
		loaded, err := config.LoadConfigFile(path)
		if err != nil {
			klogging.Fatal(ctx).WithError(err).With("path", path).Log("ConfigLoadFailed", "")
			os.Exit(1)
		}
		cfg = loaded
	}
	cfgProvider := config.NewDefaultConfigProvider(config.ApplyEnvOverrides(cfg))

	// metrics: opencensus producers exported on a prometheus registry with the go/process collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pe, err := ocprom.NewExporter(ocprom.Options{Namespace: "placement", Registry: registry})
	if err != nil {
		klogging.Fatal(ctx).WithError(err).Log("PrometheusExporterFailed", "")
		os.Exit(1)
	}
	metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry())
	kmetrics.GetGaugeRegistry() // registers the derived gauge producer

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager, pm := buildManager(ctx, cfgProvider)
	app := biz.NewApp(manager, cfgProvider, pm)
	app.WatchConfig(ctx)
	manager.Start(ctx)

	apiPort := kcommon.GetEnvInt("API_PORT", 8080)
	metricsPort := kcommon.GetEnvInt("METRICS_PORT", 9090)
	mainMux := http.NewServeMux()
	handler.NewHandler(app).RegisterRoutes(mainMux)
	mainServer := &http.Server{Addr: fmt.Sprintf(":%d", apiPort), Handler: mainMux}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: metricsMux}
	klogging.Info(ctx).With("api_port", apiPort).With("metrics_port", metricsPort).Log("ServerConfig", "")

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("ServerShutdown", "shutting down")
		manager.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := mainServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MainServerShutdownError", "")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klogging.Error(ctx).WithError(err).Log("MetricsServerShutdownError", "")
		}
		cancel()
	}()

	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStarting", "")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).WithError(err).Log("MetricsServerError", "")
		}
	}()

	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStarting", "")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		klogging.Error(ctx).WithError(err).Log("MainServerError", "")
	}
	klogging.Info(ctx).Log("ServerStopped", "")
}

// buildManager wires the scope manager to a static snapshot file, or to etcd. The path manager
// is nil in file mode.
func buildManager(ctx context.Context, cfgProvider config.ConfigProvider) (*scope.Manager, *config.PathManager) {
	if path := kcommon.GetEnvString("SNAPSHOT_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			klogging.Fatal(ctx).WithError(err).With("path", path).Log("SnapshotFileReadFailed", "")
			os.Exit(1)
		}
		sj, err := placementjson.ParseSnapshotJson(string(raw))
		if err != nil {
			klogging.Fatal(ctx).WithError(err).With("path", path).Log("SnapshotFileInvalid", "")
			os.Exit(1)
		}
		source := snapshot.NewMemorySource(cfgProvider)
		source.LoadJson(sj)
		klogging.Info(ctx).With("path", path).With("scope", sj.ScopeId).With("jobs", len(sj.Jobs)).Log("StaticSnapshotLoaded", "")
		return scope.NewManager(&scope.Deps{
			Source:      source,
			CfgProvider: cfgProvider,
			// the file has no orchestrator behind it, so committed jobs are marked running here
			OnCycle: func(report *scope.CycleReport) {
				source.ApplyCommitted(report.ScopeId, report.Committed)
			},
		}), nil
	}

	pm := config.NewPathManager(kcommon.GetEnvString("PLACEMENT_ETCD_ROOT", "/placement"))
	klogging.Info(ctx).With("root", pm.GetScopesPrefix()).Log("EtcdModeSelected", "")
	return scope.NewManager(&scope.Deps{
		Source:      snapshot.NewEtcdSource(pm, cfgProvider),
		Dispatcher:  dispatch.NewEtcdDispatcher(pm),
		CfgProvider: cfgProvider,
	}), pm
}
