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

package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blkluv/taggr/database"
	"github.com/blkluv/taggr/event"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/state"
)

var tracer = otel.Tracer("github.com/blkluv/taggr/persistence")

const (
	// FinalizeDelay is how long after a restore the pending upgrade is
	// finalized
	FinalizeDelay = time.Second
	// DefaultChoresInterval is the period of the recurring chores
	DefaultChoresInterval = 15 * time.Minute
)

type Config struct {
	Machine      *state.Machine
	Snapshots    *database.SnapshotStore
	Scheduler    *state.Scheduler
	Installer    Installer
	Replacer     Replacer
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// Now defaults to time.Now
	Now func() time.Time
}

// Protocol moves the world between memory and durable storage. It drives
// the lifecycle phases of the state machine: only one checkpoint or
// replacement runs at a time.
type Protocol struct {
	config       Config
	logger       *slog.Logger
	metrics      *persistenceMetrics
	checkpointMu sync.Mutex
	upgradeWg    sync.WaitGroup
	upgradeCtx   context.Context
	upgradeStop  context.CancelFunc
}

func New(cfg Config) (*Protocol, error) {
	if cfg.Machine == nil {
		return nil, errors.New("persistence: no state machine provided")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("persistence: no snapshot store provided")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Protocol{
		config: cfg,
		logger: cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	p.logger = p.logger.With("component", "persistence")
	if cfg.PromRegistry != nil {
		p.metrics = &persistenceMetrics{}
		p.metrics.init(cfg.PromRegistry)
	}
	p.upgradeCtx, p.upgradeStop = context.WithCancel(context.Background())
	return p, nil
}

// Stop cancels a running replacement and waits for it to return
func (p *Protocol) Stop() {
	p.upgradeStop()
	p.upgradeWg.Wait()
}

// Checkpoint writes the world to durable storage and resumes normal
// operation
func (p *Protocol) Checkpoint(ctx context.Context) (database.SnapshotHead, error) {
	p.checkpointMu.Lock()
	defer p.checkpointMu.Unlock()
	head, err := p.checkpoint(ctx)
	if err != nil {
		return database.SnapshotHead{}, err
	}
	if err := p.config.Machine.Transition(state.PhaseRunning); err != nil {
		return database.SnapshotHead{}, err
	}
	return head, nil
}

// checkpoint leaves the machine in the Checkpointing phase on success.
// On failure the machine is back in Running.
func (p *Protocol) checkpoint(ctx context.Context) (database.SnapshotHead, error) {
	ctx, span := tracer.Start(ctx, "persistence.Checkpoint")
	defer span.End()
	start := time.Now()

	if err := p.config.Machine.Transition(state.PhaseCheckpointing); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return database.SnapshotHead{}, err
	}
	head, err := p.writeCheckpoint(ctx)
	if p.metrics != nil {
		p.metrics.checkpointsTotal.WithLabelValues(result(err)).Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if terr := p.config.Machine.Transition(state.PhaseRunning); terr != nil {
			p.logger.Error(
				"failed to resume after checkpoint failure",
				"error", terr,
			)
		}
		return database.SnapshotHead{}, err
	}
	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int64("generation", int64(head.Generation)), //nolint:gosec // generation counter
		attribute.Int64("bytes", int64(head.Extent)),          //nolint:gosec // snapshot size
	)
	if p.metrics != nil {
		p.metrics.checkpointBytes.Set(float64(head.Extent))
		p.metrics.checkpointDuration.Observe(duration.Seconds())
	}
	p.logger.Info(
		"checkpoint written",
		"generation", head.Generation,
		"bytes", head.Extent,
		"pages", head.Pages,
		"duration", duration,
	)
	if p.config.EventBus != nil {
		p.config.EventBus.Publish(
			database.CheckpointEventType,
			event.NewEvent(
				database.CheckpointEventType,
				database.CheckpointEvent{Head: head, Duration: duration},
			),
		)
	}
	return head, nil
}

func (p *Protocol) writeCheckpoint(ctx context.Context) (database.SnapshotHead, error) {
	var data []byte
	err := p.config.Machine.Barrier(
		ctx,
		"checkpoint",
		func(w *state.World) error {
			var err error
			data, err = Encode(w)
			return err
		},
	)
	if err != nil {
		return database.SnapshotHead{}, fmt.Errorf("encode world: %w", err)
	}
	head, err := p.config.Snapshots.Write(ctx, data)
	if err != nil {
		return database.SnapshotHead{}, fmt.Errorf("write snapshot: %w", err)
	}
	return head, nil
}

// Restore loads the head snapshot into the world and starts normal
// operation. Without a snapshot the world stays empty, the machine still
// starts and ErrSnapshotUnavailable is returned so the caller can log it.
// Any other failure leaves the machine in the Restoring phase.
func (p *Protocol) Restore(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "persistence.Restore")
	defer span.End()
	err := p.restore(ctx)
	if p.metrics != nil {
		label := result(err)
		if errors.Is(err, governance.ErrSnapshotUnavailable) {
			label = "empty"
		}
		p.metrics.restoresTotal.WithLabelValues(label).Inc()
	}
	if err != nil && !errors.Is(err, governance.ErrSnapshotUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if terr := p.config.Machine.Transition(state.PhaseRunning); terr != nil {
		return terr
	}
	if err == nil {
		p.scheduleFinalize()
	}
	return err
}

func (p *Protocol) restore(ctx context.Context) error {
	data, head, err := p.config.Snapshots.Read(ctx)
	if err != nil {
		if errors.Is(err, database.ErrNoSnapshot) {
			p.logger.Info("no snapshot found, starting with an empty world")
			return fmt.Errorf("%w: %w", governance.ErrSnapshotUnavailable, err)
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	err = p.config.Machine.Barrier(
		ctx,
		"restore",
		func(w *state.World) error {
			return snap.Apply(w)
		},
	)
	if err != nil {
		return err
	}
	p.logger.Info(
		"snapshot restored",
		"generation", head.Generation,
		"bytes", head.Extent,
		"created", head.Time(),
	)
	return nil
}

func (p *Protocol) scheduleFinalize() {
	if p.config.Scheduler == nil {
		p.config.Machine.Submit("finalize-upgrade", p.FinalizeUpgrade)
		return
	}
	p.config.Scheduler.After("finalize-upgrade", FinalizeDelay, p.FinalizeUpgrade)
}
