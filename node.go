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
	"sync"

	"github.com/blkluv/taggr/api"
	"github.com/blkluv/taggr/database"
	"github.com/blkluv/taggr/event"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/state"
	"github.com/blkluv/taggr/upgrade"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	world         *state.World
	machine       *state.Machine
	scheduler     *state.Scheduler
	protocol      *persistence.Protocol
	api           *api.API
	shutdownFuncs []func(context.Context) error
	config        Config
	ready         chan struct{}
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	return n, nil
}

// Run starts every component and blocks until Stop is called
func (n *Node) Run(ctx context.Context) error {
	if err := n.start(ctx); err != nil {
		// Release whatever was started before the failure
		return errors.Join(err, n.Stop())
	}
	close(n.ready)
	<-n.done
	return nil
}

func (n *Node) start(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		Logger:            n.config.logger,
		PromRegistry:      n.config.promRegistry,
		BlobPlugin:        n.config.blobPlugin,
		MetadataPlugin:    n.config.metadataPlugin,
		EncryptSnapshots:  n.config.encryptSnapshots,
		RetainGenerations: n.config.retainGenerations,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	if audit := n.db.Audit(); audit != nil {
		audit.Start(n.eventBus)
	}
	// Build the world. The upgrader is attached once the persistence
	// protocol exists.
	world, err := state.NewWorld(state.WorldConfig{
		Policy:       n.config.policy,
		EventBus:     n.eventBus,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to create world: %w", err)
	}
	n.world = world
	n.machine = state.NewMachine(
		n.world,
		state.WithLogger(n.config.logger),
		state.WithPromRegistry(n.config.promRegistry),
	)
	n.machine.Start()
	n.scheduler = state.NewScheduler(n.config.choresInterval, n.machine)
	// Configure persistence and release handover
	replacer := n.config.replacer
	if replacer == nil {
		replacer = upgrade.NewReplacer(
			upgrade.WithMode(n.config.upgradeMode),
			upgrade.WithLogger(n.config.logger),
		)
	}
	protocol, err := persistence.New(persistence.Config{
		Machine:      n.machine,
		Snapshots:    n.db.Snapshots(),
		Scheduler:    n.scheduler,
		Installer:    upgrade.NewInstaller(n.config.dataDir, n.config.logger),
		Replacer:     replacer,
		EventBus:     n.eventBus,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Now:          n.config.now,
	})
	if err != nil {
		return fmt.Errorf("failed to configure persistence: %w", err)
	}
	n.protocol = protocol
	n.world.Governance.SetUpgrader(n.protocol)
	// Restore the last checkpoint, if any
	if err := n.protocol.Restore(ctx); err != nil {
		if !errors.Is(err, governance.ErrSnapshotUnavailable) {
			return fmt.Errorf("failed to restore state: %w", err)
		}
		n.config.logger.Info(
			"no snapshot found, starting with empty state",
			"component", "node",
		)
	}
	n.protocol.RegisterChores(n.scheduler, 1)
	n.scheduler.Start()
	// Configure the request surface
	n.api = api.New(api.Config{
		ListenAddress:   n.config.listenAddress,
		TlsCertFilePath: n.config.tlsCertFilePath,
		TlsKeyFilePath:  n.config.tlsKeyFilePath,
		Logger:          n.config.logger,
		Machine:         n.machine,
		Backups:         n.protocol,
		Now:             n.config.now,
	})
	if err := n.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}
	return nil
}

// Ready is closed once every component has started
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Machine returns the state machine. It is nil until Run has started it.
func (n *Node) Machine() *state.Machine {
	return n.machine
}

// Protocol returns the persistence protocol
func (n *Node) Protocol() *persistence.Protocol {
	return n.protocol
}

// API returns the request surface
func (n *Node) API() *api.API {
	return n.api
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		n.config.shutdownTimeout,
	)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug(
		"shutdown phase 1: stopping new work",
		"component", "node",
	)
	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}
	if n.scheduler != nil {
		n.scheduler.Stop()
	}
	if n.protocol != nil {
		n.protocol.Stop()
	}

	// Phase 2: Flush state
	n.config.logger.Debug("shutdown phase 2: flushing state", "component", "node")
	if n.protocol != nil && n.machine.Phase() == state.PhaseRunning {
		if _, cpErr := n.protocol.Checkpoint(ctx); cpErr != nil {
			err = errors.Join(err, fmt.Errorf("final checkpoint: %w", cpErr))
		}
	}
	if n.machine != nil {
		n.machine.Stop()
	}

	// Phase 3: Close database
	n.config.logger.Debug("shutdown phase 3: closing database", "component", "node")
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug(
		"shutdown phase 4: cleanup resources",
		"component", "node",
	)
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
