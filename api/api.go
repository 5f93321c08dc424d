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

// Package api serves the governance request surface as JSON over HTTP,
// with gRPC health checks and reflection on the same listener.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/state"
)

const (
	// ServiceName is reported by the gRPC health and reflection handlers
	ServiceName = "taggr.v1.Governance"
	// PrincipalHeader carries the caller principal
	PrincipalHeader = "X-Taggr-Principal"

	DefaultListenAddress = ":7070"
	// DefaultMaxBodySize bounds request bodies, which carry release
	// binaries
	DefaultMaxBodySize = 64 << 20
)

// StateMachine runs handlers against the world
type StateMachine interface {
	Mutate(ctx context.Context, fn state.TaskFunc) error
	Read(ctx context.Context, fn state.TaskFunc) error
}

// Backups serves paged snapshot reads
type Backups interface {
	BeginBackup(ctx context.Context) (*persistence.BackupPass, error)
	ResumeBackup(ctx context.Context, generation uint64) (*persistence.BackupPass, error)
}

type Config struct {
	ListenAddress   string
	TlsCertFilePath string
	TlsKeyFilePath  string
	MaxBodySize     int64
	Logger          *slog.Logger
	Machine         StateMachine
	Backups         Backups
	// Now defaults to time.Now
	Now func() time.Time
}

type API struct {
	config     Config
	logger     *slog.Logger
	httpServer *http.Server
	addr       net.Addr
	mu         sync.Mutex
}

func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &API{
		config: cfg,
		logger: logger.With("component", "api"),
	}
}

// Handler returns the routed handler without h2c or TLS
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/proposals/release", a.handleProposeRelease)
	mux.HandleFunc("POST /api/v1/proposals/reward", a.handleProposeReward)
	mux.HandleFunc("POST /api/v1/proposals/fund", a.handleProposeFund)
	mux.HandleFunc("POST /api/v1/proposals/{id}/vote", a.handleVote)
	mux.HandleFunc("POST /api/v1/proposals/{id}/cancel", a.handleCancel)
	mux.HandleFunc("GET /api/v1/proposals/{id}", a.handleProposal)
	mux.HandleFunc("GET /api/v1/proposals", a.handleProposals)
	mux.HandleFunc("POST /api/v1/emergency/release", a.handleEmergencyRelease)
	mux.HandleFunc("POST /api/v1/emergency/confirm", a.handleEmergencyConfirm)
	mux.HandleFunc("POST /api/v1/emergency/force", a.handleEmergencyForce)
	mux.HandleFunc("GET /api/v1/emergency", a.handleEmergencyStatus)
	mux.HandleFunc("GET /api/v1/backup", a.handleBackup)
	mux.HandleFunc("GET /api/v1/backup/{page}", a.handleBackupPage)
	mux.HandleFunc("GET /api/v1/balances", a.handleBalances)
	mux.HandleFunc("GET /api/v1/transactions", a.handleTransactions)
	mux.HandleFunc("POST /api/v1/users", a.handleCreateUser)
	mux.HandleFunc("GET /health", a.handleHealth)

	compress1KB := connect.WithCompressMinBytes(1024)
	mux.Handle(
		grpchealth.NewHandler(
			grpchealth.NewStaticChecker(ServiceName),
			compress1KB,
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1(
			grpcreflect.NewStaticReflector(ServiceName),
			compress1KB,
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1Alpha(
			grpcreflect.NewStaticReflector(ServiceName),
			compress1KB,
		),
	)
	return mux
}

// Start binds the listener and serves in the background until ctx is done
// or Stop is called
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	useTLS := a.config.TlsCertFilePath != "" && a.config.TlsKeyFilePath != ""
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		ReadHeaderTimeout: 60 * time.Second,
	}
	if useTLS {
		server.Handler = a.Handler()
	} else {
		// Use h2c so gRPC health checks work without TLS
		server.Handler = h2c.NewHandler(a.Handler(), &http2.Server{})
	}
	a.httpServer = server
	a.mu.Unlock()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	if useTLS {
		cert, err := tls.LoadX509KeyPair(
			a.config.TlsCertFilePath,
			a.config.TlsKeyFilePath,
		)
		if err != nil {
			_ = ln.Close()
			a.mu.Lock()
			a.httpServer = nil
			a.mu.Unlock()
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	a.logger.Info("API listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start
func (a *API) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Stop gracefully shuts down the HTTP server
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}
