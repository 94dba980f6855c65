package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xrootd-go/xrootd-core/internal/logger"
	"github.com/xrootd-go/xrootd-core/internal/telemetry"
	"github.com/xrootd-go/xrootd-core/pkg/bufpool"
	"github.com/xrootd-go/xrootd-core/pkg/config"
	"github.com/xrootd-go/xrootd-core/pkg/metrics/prometheus"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/checkpoint"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/dispatch"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/lock"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/memfs"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/monitor"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/security"
	"github.com/xrootd-go/xrootd-core/pkg/xrootd/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the xrootd server",
	Long: `Start the xrootd server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/xrootd/config.yaml.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "xrootd-core",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	mon := monitor.Monitor(monitor.NoOp{})
	if cfg.Metrics.Enabled {
		sink := prometheus.NewSink(nil)
		mon = sink
		metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: promhttp.Handler()}
		go func() {
			logger.Info("metrics endpoint listening", "address", cfg.Metrics.ListenAddress)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	sec, err := securityProvider(cfg.Security.Provider)
	if err != nil {
		return err
	}

	pool := bufpool.New(bufpool.Config{
		MinSize:         cfg.BufferPool.MinSize,
		MaxSize:         cfg.BufferPool.MaxSize,
		MaxTotal:        cfg.BufferPool.MaxTotal,
		RetentionWindow: cfg.BufferPool.RetentionWindow,
	})

	d := dispatch.New(
		memfs.New(),
		pool,
		lock.NewManager(),
		checkpoint.NewManager(),
		sec,
		mon,
		dispatch.Config{
			SegSize:            cfg.Async.SegSize,
			MiniOSz:            cfg.Async.MiniOSz,
			MaxPerReq:          cfg.Async.MaxPerReq,
			PgMaxErrorsPerReq:  cfg.PgWrite.MaxErrorsPerRequest,
			PgMaxErrorsPerFile: cfg.PgWrite.MaxErrorsPerFile,
			CheckpointMaxSize:  int64(cfg.Checkpoint.MaxSlotSize),
			SendfileOK:         true,
			IsLoadBalancer:     cfg.Role.IsLoadBalancer,
		},
	)

	srv := server.New(server.Config{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		Timeouts: server.Timeouts{
			Idle:      cfg.Timeouts.Idle,
			Read:      cfg.Timeouts.Read,
			Handshake: cfg.Timeouts.Handshake,
		},
		SendfileOK: true,
	}, d, pool, mon)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("xrootd server running", "listen", fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port))

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received, stopping")
		cancel()
		return <-serverDone
	case err := <-serverDone:
		signal.Stop(sigCh)
		return err
	}
}

// securityProvider resolves the configured provider name to a concrete
// security.Provider. Only "allow-all" is implemented; unknown names are
// rejected at startup rather than silently falling back.
func securityProvider(name string) (security.Provider, error) {
	switch name {
	case "", "allow-all":
		return security.AllowAll{}, nil
	default:
		return nil, fmt.Errorf("commands: unknown security provider %q", name)
	}
}
