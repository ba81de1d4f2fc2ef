// Command astrogator serves the navigation simulation over gRPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/astrogator/internal/config"
	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/internal/nbi"
	"github.com/signalsfoundry/astrogator/internal/observability"
	"github.com/signalsfoundry/astrogator/internal/sim/state"
	"github.com/signalsfoundry/astrogator/kb"
	"github.com/signalsfoundry/astrogator/timectrl"
)

// StarsFile is the star catalog served by GetStars, relative to the data
// directory.
const StarsFile = "stars.json"

func main() {
	configFile := flag.String("config", "", "Path to a config file (yaml, toml or json); defaults to ./astrogator.*")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the navigation gRPC server listens on")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables")
	kernelDir := flag.String("kernels", "", "Directory of ephemeris kernels")
	dataDir := flag.String("data", "", "Directory holding users.json and stars.json")
	bodiesFile := flag.String("bodies", "", "Optional JSON body catalog merged over the stock bodies")
	policy := flag.String("policy", "", "Propagation policy: epoch-only or linear-drift")
	flag.Parse()

	overrides := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc-addr":
			overrides["grpc_addr"] = *grpcAddr
		case "metrics-addr":
			overrides["metrics_addr"] = *metricsAddr
		case "kernels":
			overrides["kernel_dir"] = *kernelDir
		case "data":
			overrides["data_dir"] = *dataDir
		case "bodies":
			overrides["bodies_file"] = *bodiesFile
		case "policy":
			overrides["fleet.policy"] = *policy
		}
	})

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configFile, overrides)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(2)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves on lis until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	navMetrics, err := observability.NewNavCollector(reg)
	if err != nil {
		return fmt.Errorf("nav metrics: %w", err)
	}
	ephMetrics, err := observability.NewEphemerisCollector(reg)
	if err != nil {
		return fmt.Errorf("ephemeris metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, navMetrics, log)

	catalog := kb.NewDefaultKnowledgeBase()
	if cfg.BodiesFile != "" {
		n, err := catalog.LoadFile(cfg.BodiesFile)
		if err != nil {
			return err
		}
		log.Info(ctx, "loaded body catalog", logging.String("path", cfg.BodiesFile), logging.Int("bodies", n))
	}

	gateway := ephem.New(
		ephem.WithLogger(log),
		ephem.WithMetrics(ephMetrics),
		ephem.WithCatalog(catalog),
	)
	defer gateway.Close()

	report, err := gateway.Load(ctx, cfg.KernelDir)
	if err != nil {
		// Keep serving; every ephemeris-backed answer reports unavailable.
		log.Warn(ctx, "continuing without kernels", logging.Err(err))
	} else {
		log.Info(ctx, "kernels loaded",
			logging.String("dir", report.Dir),
			logging.Int("loaded", len(report.Loaded)),
			logging.Int("failed", len(report.Failed)))
	}

	initCfg := state.DefaultInitConfig()
	initCfg.StartUTC = cfg.Fleet.StartUTC
	initCfg.ReferenceBody = cfg.Fleet.ReferenceBody
	initCfg.Scale = cfg.Fleet.Scale
	initCfg.Policy = cfg.Fleet.Policy

	registry := state.NewRegistry(
		state.WithLogger(log),
		state.WithMetricsRecorder(navMetrics),
		state.WithInitConfig(initCfg),
	)
	if err := registry.Init(ctx, cfg.DataDir, gateway); err != nil && !errors.Is(err, state.ErrAccountsUnavailable) {
		return err
	}

	clock := timectrl.NewTimeController(cfg.Clock.Start, cfg.Clock.Rate)
	var sweepDone <-chan struct{}
	if cfg.Clock.PropagateInterval > 0 {
		clock.AddListener(func(now time.Time) {
			et, err := gateway.Now(ctx, now)
			if err != nil {
				log.Debug(ctx, "fleet sweep skipped", logging.Err(err))
				return
			}
			registry.PropagateAll(et)
		})
		sweepDone = clock.Run(ctx, cfg.Clock.PropagateInterval)
	}

	svc := nbi.NewNavigationService(gateway, registry, clock,
		nbi.WithServiceLogger(log),
		nbi.WithNavMetrics(navMetrics),
		nbi.WithStars(loadStars(ctx, log, filepath.Join(cfg.DataDir, StarsFile))),
		nbi.WithPathPoints(cfg.PathPoints),
		nbi.WithCatalog(catalog),
	)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			nbi.AccessLogUnaryServerInterceptor(log),
			navMetrics.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterNavigationServer(server, svc)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting navigation gRPC server",
			logging.String("addr", lis.Addr().String()),
			logging.Int("spacecraft", registry.Len()))
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down navigation server")
		server.GracefulStop()
		<-serveErr
	case err := <-serveErr:
		runErr = err
	}

	if sweepDone != nil {
		<-sweepDone
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveMetrics(addr string, collector *observability.NavCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// loadStars reads the star catalog as an opaque JSON array. A missing or
// malformed file serves an empty catalog.
func loadStars(ctx context.Context, log logging.Logger, path string) []any {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn(ctx, "star catalog unavailable", logging.String("path", path), logging.Err(err))
		return nil
	}
	var stars []any
	if err := json.Unmarshal(data, &stars); err != nil {
		log.Warn(ctx, "failed to parse star catalog", logging.String("path", path), logging.Err(err))
		return nil
	}
	log.Info(ctx, "loaded star catalog", logging.String("path", path), logging.Int("stars", len(stars)))
	return stars
}
