package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/config"
	"github.com/studiowebux/echotest/internal/echotest"
	"github.com/studiowebux/echotest/internal/logging"
	"github.com/studiowebux/echotest/internal/metrics"
	"github.com/studiowebux/echotest/internal/pool"
	"github.com/studiowebux/echotest/internal/report"
)

func runClient(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	if err := config.Load(config.ResolveConfigPath(flagConfig), &clientCfg, cmd.Flags()); err != nil {
		return err
	}
	if err := clientCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(clientCfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	clientMetrics := metrics.NewClient(reg)
	if clientCfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, clientCfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	p, err := pool.Dial(ctx, pool.Options{
		Host:           clientCfg.Host,
		Port:           clientCfg.Port,
		Size:           clientCfg.PoolSize,
		ConnectTimeout: clientCfg.ConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize connection pool: %w", err)
	}
	defer p.CloseAll()

	execConfig := &echotest.Config{
		Target:          clientCfg.Address(),
		Iterations:      clientCfg.Iterations,
		Workers:         clientCfg.Workers,
		PoolSize:        clientCfg.PoolSize,
		ResponseTimeout: clientCfg.ResponseTimeout,
		Delay:           clientCfg.Delay,
		RRNPrefix:       clientCfg.RRNPrefix,
	}
	executor, err := echotest.NewExecutor(execConfig, p,
		echotest.WithLogger(logger),
		echotest.WithMetrics(clientMetrics))
	if err != nil {
		return err
	}

	rep, runErr := executor.Run(ctx)
	if rep == nil {
		return runErr
	}

	console := report.NewConsole(os.Stdout)
	console.Verbose = flagVerbose
	sinks := []report.Sink{console}

	if !clientCfg.NoStore {
		dbPath := clientCfg.DatabasePath
		if dbPath == "" {
			dbPath = config.DatabasePath
		}
		manager, err := echotest.NewManager(dbPath)
		if err != nil {
			logger.Error("run history unavailable, results not saved", zap.String("db", dbPath), zap.Error(err))
		} else {
			defer manager.Close()
			sinks = append(sinks, report.NewStore(manager, logger))
		}
	}

	// The run context may already be cancelled; reporting still has to happen.
	if err := report.Multi(sinks...).Report(context.Background(), rep); err != nil {
		return fmt.Errorf("failed to report run: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
