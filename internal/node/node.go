// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blkluv/taggr"
	"github.com/blkluv/taggr/internal/config"
	"github.com/blkluv/taggr/upgrade"
)

// NodeOptions converts the loaded configuration into node options
func NodeOptions(
	cfg *config.Config,
	logger *slog.Logger,
) ([]taggr.ConfigOptionFunc, error) {
	shutdownTimeout, err := cfg.ShutdownWait()
	if err != nil {
		return nil, err
	}
	choresInterval, err := cfg.ChoresEvery()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Governance.Policy()
	if err != nil {
		return nil, err
	}
	return []taggr.ConfigOptionFunc{
		taggr.WithLogger(logger),
		taggr.WithDataDir(cfg.DataDir),
		taggr.WithBlobPlugin(cfg.BlobPlugin),
		taggr.WithMetadataPlugin(cfg.MetadataPlugin),
		taggr.WithListenAddress(cfg.ListenAddress()),
		taggr.WithTlsCertFilePath(cfg.TlsCertFilePath),
		taggr.WithTlsKeyFilePath(cfg.TlsKeyFilePath),
		taggr.WithEncryptSnapshots(cfg.EncryptSnapshots),
		taggr.WithRetainGenerations(cfg.RetainGenerations),
		taggr.WithPolicy(policy),
		taggr.WithChoresInterval(choresInterval),
		taggr.WithUpgradeMode(upgrade.Mode(cfg.UpgradeMode)),
		taggr.WithShutdownTimeout(shutdownTimeout),
		taggr.WithTracing(cfg.TracingEnabled),
		taggr.WithTracingStdout(cfg.TracingStdout),
		// Enable metrics with default prometheus registry
		taggr.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := NodeOptions(cfg, logger)
	if err != nil {
		return err
	}
	shutdownTimeout, err := cfg.ShutdownWait()
	if err != nil {
		return err
	}
	n, err := taggr.New(taggr.NewConfig(opts...))
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		errChan <- n.Run(signalCtx)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := n.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errChan:
		shutdownMetrics()
		if err != nil {
			// Run releases its own resources when startup fails
			logger.Error("node error", "error", err)
			return err
		}
		logger.Info("node stopped")
		return nil
	}
}
