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

package taggr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/upgrade"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	serviceName            = "taggr"
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	policy            governance.Policy
	dataDir           string
	blobPlugin        string
	metadataPlugin    string
	listenAddress     string
	tlsCertFilePath   string
	tlsKeyFilePath    string
	upgradeMode       upgrade.Mode
	retainGenerations int
	encryptSnapshots  bool
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
	choresInterval    time.Duration
	// Now is used for every governance timestamp. Defaults to time.Now.
	now func() time.Time
	// replacer overrides the process replacer built from upgradeMode
	replacer persistence.Replacer
}

func (c *Config) validate() error {
	if c.blobPlugin == "" {
		return errors.New("no blob plugin configured")
	}
	if c.dataDir == "" {
		return errors.New("no data directory configured")
	}
	if err := c.policy.Validate(); err != nil {
		return err
	}
	switch c.upgradeMode {
	case upgrade.ModeExec, upgrade.ModeExit:
	default:
		return fmt.Errorf("unknown upgrade mode: %q", c.upgradeMode)
	}
	if c.choresInterval <= 0 {
		return fmt.Errorf("invalid chores interval: %s", c.choresInterval)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new taggr config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		policy:          governance.DefaultPolicy(),
		blobPlugin:      "badger",
		listenAddress:   ":7070",
		upgradeMode:     upgrade.ModeExec,
		choresInterval:  persistence.DefaultChoresInterval,
		shutdownTimeout: defaultShutdownTimeout,
		now:             time.Now,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDataDir specifies the directory holding installed releases
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin selects the snapshot storage plugin
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin selects the audit log plugin. An empty name disables the audit log.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithListenAddress specifies the API listen address
func WithListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = addr
	}
}

func WithTlsCertFilePath(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.tlsCertFilePath = path
	}
}

func WithTlsKeyFilePath(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.tlsKeyFilePath = path
	}
}

// WithPolicy specifies the governance thresholds
func WithPolicy(policy governance.Policy) ConfigOptionFunc {
	return func(c *Config) {
		c.policy = policy
	}
}

// WithChoresInterval specifies how often expired proposals are swept and
// the emergency release is checked
func WithChoresInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.choresInterval = interval
	}
}

// WithUpgradeMode selects how the process hands over to a new release
func WithUpgradeMode(mode upgrade.Mode) ConfigOptionFunc {
	return func(c *Config) {
		c.upgradeMode = mode
	}
}

// WithReplacer overrides the process replacer
func WithReplacer(replacer persistence.Replacer) ConfigOptionFunc {
	return func(c *Config) {
		c.replacer = replacer
	}
}

// WithEncryptSnapshots enables SOPS encryption of snapshot pages at rest
func WithEncryptSnapshots(encrypt bool) ConfigOptionFunc {
	return func(c *Config) {
		c.encryptSnapshots = encrypt
	}
}

// WithRetainGenerations specifies how many snapshot generations are kept
func WithRetainGenerations(n int) ConfigOptionFunc {
	return func(c *Config) {
		c.retainGenerations = n
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithNow overrides the clock used for governance timestamps
func WithNow(now func() time.Time) ConfigOptionFunc {
	return func(c *Config) {
		c.now = now
	}
}

func (n *Node) setupTracing() error {
	var exporter sdktrace.SpanExporter
	var err error
	if n.config.tracingStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		exporter, err = otlptracehttp.New(context.Background())
	}
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	n.shutdownFuncs = append(n.shutdownFuncs, tp.Shutdown)
	return nil
}
