package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcpgateway/internal/buildinfo"
	"mcpgateway/internal/bridge"
	"mcpgateway/internal/config"
	"mcpgateway/internal/credential"
	"mcpgateway/internal/gateway"
	"mcpgateway/internal/keylock"
	"mcpgateway/internal/lifecycle"
	"mcpgateway/internal/logging"
	"mcpgateway/internal/metrics"
	"mcpgateway/internal/portalloc"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/runtime"
	dockerruntime "mcpgateway/internal/runtime/docker"
	"mcpgateway/internal/sweeper"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

func main() {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "mcpgatewayd",
		Short:   "Multi-tenant MCP gateway daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	adapter, err := dockerruntime.New()
	if err != nil {
		return err
	}
	if err := adapter.Ping(ctx); err != nil {
		slog.Warn("container runtime not reachable at startup, continuing", "err", err)
	}

	reg := registry.New()
	allocator := newAllocator(adapter, cfg)
	oracle := newOracle(cfg)
	locks := keylock.New()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	controller := lifecycle.New(adapter, reg, allocator, lifecycle.Config{
		Image:             cfg.ImageReference,
		ContainerPort:     cfg.ContainerPort,
		Resources:         runtime.Resources{MemoryBytes: cfg.MemoryLimitBytes, NanoCPUs: cfg.CPUShares},
		RestartReadiness:  time.Second,
		CreateReadiness:   2 * time.Second,
		StartingPollBound: 5 * time.Second,
		BuildEnv:          buildEnv,
	}, lifecycle.WithLocks(locks))

	sw := sweeper.New(adapter, reg, sweeper.Config{
		Interval:      cfg.SweepInterval,
		IdleThreshold: cfg.IdleTimeout,
	}, sweeper.WithLocker(locks), sweeper.WithMetrics(m))
	go sw.Run(ctx)

	gw := gateway.New(oracle, controller, reg, gateway.Config{CredentialHeader: cfg.CredentialHeader}, m)
	handler := gw.Handler()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(ctx, cfg.ListenAddress, handler) })
	g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddress, promReg) })
	if cfg.BridgeListenAddress != "" {
		g.Go(func() error { return serveBridge(ctx, cfg.BridgeListenAddress, handler) })
	}
	return g.Wait()
}

func newAllocator(adapter runtime.Adapter, cfg config.Config) *portalloc.Allocator {
	return portalloc.New(adapter, cfg.PortWindowLow, cfg.PortWindowHigh, cfg.ContainerPort, "tcp")
}

func newOracle(cfg config.Config) credential.Oracle {
	return &credential.HTTPOracle{
		Endpoint: cfg.OracleEndpoint,
		Client:   http.DefaultClient,
		Timeout:  credential.DefaultTimeout,
	}
}

// buildEnv derives a tenant container's environment from its credential
// (spec.md §6): the backend process receives only what it needs to talk to
// the upstream document service and to listen on the fixed internal port.
func buildEnv(token string) map[string]string {
	return map[string]string{
		"OUTLINE_API_KEY": token,
		"OUTLINE_API_URL": "https://app.getoutline.com",
		"MCP_TRANSPORT":   "streamable-http",
		"MCP_HOST":        "0.0.0.0",
		"MCP_PORT":        "3000",
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	return runServer(ctx, srv, "gateway")
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg)}
	return runServer(ctx, srv, "metrics")
}

func runServer(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "component", name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func serveBridge(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("listening", "component", "bridge", "addr", addr)
	return bridge.New(handler).Serve(ctx, ln)
}
