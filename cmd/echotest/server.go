package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/config"
	"github.com/studiowebux/echotest/internal/logging"
	"github.com/studiowebux/echotest/internal/metrics"
	"github.com/studiowebux/echotest/internal/responder"
	"github.com/studiowebux/echotest/internal/supervisor"
)

// Flags a worker process must not inherit from the coordinator.
var coordinatorOnlyFlags = map[string]bool{
	"workers":      true,
	"metrics-addr": true,
	"max-crashes":  true,
}

func loadServerConfig(cmd *cobra.Command, cfg *config.ServerConfig) (*zap.Logger, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	if err := config.Load(config.ResolveConfigPath(flagConfig), cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return logging.New(cfg.Log)
}

func runServer(cmd *cobra.Command) error {
	logger, err := loadServerConfig(cmd, &serverCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	if serverCfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, serverCfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	workers := serverCfg.Workers
	if workers > 1 && !responder.ReusePortSupported {
		logger.Warn("shared listening port unsupported on this platform, running a single process",
			zap.Int("requested_workers", workers))
		workers = 1
	}

	if workers == 1 {
		return serve(ctx, &serverCfg, false, logger, metrics.NewServer(reg))
	}

	launcher, err := supervisor.NewExecLauncher(workerArgs(cmd.Flags())...)
	if err != nil {
		return err
	}
	sup, err := supervisor.New(launcher, supervisor.Options{
		Workers:    workers,
		MaxCrashes: serverCfg.MaxCrashes,
		Logger:     logger.With(zap.String("role", "coordinator")),
		Metrics:    metrics.NewSupervisor(reg),
	})
	if err != nil {
		return err
	}

	logger.Info("coordinator started",
		zap.Int("pid", os.Getpid()),
		zap.String("addr", serverCfg.Address()),
		zap.Int("workers", workers))
	return sup.Run(ctx)
}

// workerArgs builds the command line of a worker: the server flags given to
// the coordinator, minus those only the coordinator uses.
func workerArgs(fs *pflag.FlagSet) []string {
	args := []string{"server", "worker"}
	fs.Visit(func(f *pflag.Flag) {
		if coordinatorOnlyFlags[f.Name] {
			return
		}
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}

func runServerWorker(cmd *cobra.Command) error {
	logger, err := loadServerConfig(cmd, &workerCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.Int("slot", flagSlot), zap.Int("pid", os.Getpid()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, &workerCfg, true, logger, nil)
}

// serve runs the echo responder on cfg's address until ctx is done.
func serve(ctx context.Context, cfg *config.ServerConfig, reusePort bool, logger *zap.Logger, m *metrics.Server) error {
	ln, err := responder.Listen(ctx, cfg.Address(), responder.ListenOptions{
		ReusePort: reusePort,
		Backlog:   cfg.Backlog,
	})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}

	srv := responder.NewServer(responder.Options{
		MaxConnections: cfg.MaxConnections,
		IdleTimeout:    cfg.IdleTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	if err := srv.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
