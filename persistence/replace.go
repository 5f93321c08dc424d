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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/state"
)

// Installer stages an approved binary and returns its path
type Installer interface {
	Install(ctx context.Context, req governance.UpgradeRequest) (string, error)
}

// Replacer hands the process over to the binary at path. It only returns
// on failure.
type Replacer interface {
	Replace(path string) error
}

var errNoReplacer = errors.New("no installer or replacer configured")

// ScheduleUpgrade starts a code replacement. It is called from inside the
// mutation that approved the release, so the work runs after that
// mutation completes.
func (p *Protocol) ScheduleUpgrade(req governance.UpgradeRequest) error {
	if p.config.Installer == nil || p.config.Replacer == nil {
		return errNoReplacer
	}
	if err := p.upgradeCtx.Err(); err != nil {
		return fmt.Errorf("persistence stopped: %w", err)
	}
	p.upgradeWg.Add(1)
	go func() {
		defer p.upgradeWg.Done()
		err := p.Replace(p.upgradeCtx, req)
		if p.metrics != nil {
			p.metrics.upgradesTotal.WithLabelValues(result(err)).Inc()
		}
		if err != nil {
			p.logger.Error(
				"upgrade failed",
				"hash", req.Hash,
				"source", req.Source.String(),
				"error", err,
			)
		}
	}()
	return nil
}

// Replace installs the release, checkpoints the world and replaces the
// running process. Any failure aborts the upgrade and returns the machine
// to Running.
func (p *Protocol) Replace(ctx context.Context, req governance.UpgradeRequest) error {
	ctx, span := tracer.Start(ctx, "persistence.Replace")
	defer span.End()
	span.SetAttributes(
		attribute.String("hash", req.Hash),
		attribute.String("source", req.Source.String()),
	)
	err := p.replace(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.abort(err)
	}
	return err
}

func (p *Protocol) replace(ctx context.Context, req governance.UpgradeRequest) error {
	if p.config.Installer == nil || p.config.Replacer == nil {
		return errNoReplacer
	}
	path, err := p.config.Installer.Install(ctx, req)
	if err != nil {
		return fmt.Errorf("install release: %w", err)
	}
	p.checkpointMu.Lock()
	defer p.checkpointMu.Unlock()
	head, err := p.checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint before replacement: %w", err)
	}
	if err := p.config.Machine.Transition(state.PhaseReplaced); err != nil {
		if terr := p.config.Machine.Transition(state.PhaseRunning); terr != nil {
			p.logger.Error("failed to resume", "error", terr)
		}
		return err
	}
	p.logger.Warn(
		"replacing process",
		"path", path,
		"hash", req.Hash,
		"generation", head.Generation,
	)
	if err := p.config.Replacer.Replace(path); err != nil {
		if terr := p.config.Machine.Transition(state.PhaseRunning); terr != nil {
			p.logger.Error("failed to resume", "error", terr)
		}
		return fmt.Errorf("replace process: %w", err)
	}
	return nil
}

// abort drops the pending release. The machine must be Running.
func (p *Protocol) abort(cause error) {
	err := p.config.Machine.Mutate(
		context.Background(),
		func(w *state.World) error {
			w.Governance.AbortUpgrade(cause.Error())
			return nil
		},
	)
	if err != nil {
		p.logger.Error("failed to abort upgrade", "error", err)
	}
}
