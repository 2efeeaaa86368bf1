// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luxfi/fhevm/backend"
	"github.com/luxfi/fhevm/gateway"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a gateway backed by the in-memory engine",
	Long: `Start the HTTP gateway on --api-port and Prometheus metrics on
--metrics-port. Only --contracts may request decryptions.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := cli.cfg
	logger := cli.logger

	network, err := cfg.GetNetwork()
	if err != nil {
		return err
	}
	contracts, err := cfg.GetContracts()
	if err != nil {
		return err
	}
	seed, err := cfg.GetEngineSeed()
	if err != nil {
		return err
	}

	opts := []backend.Option{
		backend.WithLogger(logger.Named("engine")),
		backend.WithContracts(contracts...),
	}
	if seed != nil {
		opts = append(opts, backend.WithSeed(seed))
	}
	engine, err := backend.NewMemoryBackend(network.ChainID, opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if len(contracts) == 0 {
		logger.Warn("No contracts registered, every decryption will be rejected")
	}

	registry := prometheus.NewRegistry()
	server := gateway.NewServer(
		engine,
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithMetrics(gateway.NewGatewayMetrics(registry)),
		gateway.WithDecryptRateLimit(rate.Limit(cfg.DecryptRate), cfg.DecryptBurst),
	)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errGroup, ctx := errgroup.WithContext(ctx)

	for _, s := range []*http.Server{apiServer, metricsServer} {
		errGroup.Go(func() error {
			logger.Info("Listening", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve on %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	// Handle graceful shutdown
	errGroup.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			apiServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	logger.Info(
		"Gateway started",
		zap.Stringer("network", network),
		zap.Int("contracts", len(contracts)),
	)
	if err := errGroup.Wait(); err != nil {
		logger.Error("Exited with error", zap.Error(err))
		return err
	}
	return nil
}
