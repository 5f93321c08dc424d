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

// Package upgrade stages approved release binaries on disk and hands the
// running process over to them.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blkluv/taggr/governance"
)

const (
	releasesDir = "releases"
	binaryMode  = 0o755
)

var ErrHashMismatch = errors.New("release binary does not match its hash")

// Installer writes release binaries to <data-dir>/releases/<hash>
type Installer struct {
	dataDir string
	logger  *slog.Logger
}

func NewInstaller(dataDir string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Installer{
		dataDir: dataDir,
		logger:  logger.With("component", "upgrade"),
	}
}

// Path returns where the binary with the given hash is installed
func (i *Installer) Path(hash string) string {
	return filepath.Join(i.dataDir, releasesDir, hash)
}

// Install verifies the binary against its hash and writes it atomically.
// Installing the same release twice is a no-op.
func (i *Installer) Install(
	ctx context.Context,
	req governance.UpgradeRequest,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(req.Binary) == 0 {
		return "", fmt.Errorf("%w: empty binary", governance.ErrInvalidPayload)
	}
	if governance.Digest(req.Binary) != req.Hash {
		return "", fmt.Errorf("%w: %s", ErrHashMismatch, req.Hash)
	}
	path := i.Path(req.Hash)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create releases dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".install-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(req.Binary); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write release: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync release: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close release: %w", err)
	}
	if err := os.Chmod(tmpName, binaryMode); err != nil {
		return "", fmt.Errorf("chmod release: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("install release: %w", err)
	}
	i.logger.Info(
		"release installed",
		"path", path,
		"bytes", len(req.Binary),
		"commit", req.Commit,
	)
	return path, nil
}

// Mode selects how the process is replaced
type Mode string

const (
	// ModeExec replaces the process image in place
	ModeExec Mode = "exec"
	// ModeExit exits cleanly and leaves the restart to a supervisor,
	// which is expected to start the installed binary
	ModeExit Mode = "exit"
)

// Replacer hands the process over to an installed release
type Replacer struct {
	mode   Mode
	logger *slog.Logger
	exec   func(path string, argv []string, env []string) error
	exit   func(code int)
}

type ReplacerOptionFunc func(*Replacer)

func WithMode(mode Mode) ReplacerOptionFunc {
	return func(r *Replacer) {
		r.mode = mode
	}
}

func WithLogger(logger *slog.Logger) ReplacerOptionFunc {
	return func(r *Replacer) {
		r.logger = logger
	}
}

// WithExecFunc overrides the process exec call
func WithExecFunc(
	fn func(path string, argv []string, env []string) error,
) ReplacerOptionFunc {
	return func(r *Replacer) {
		r.exec = fn
	}
}

// WithExitFunc overrides os.Exit
func WithExitFunc(fn func(code int)) ReplacerOptionFunc {
	return func(r *Replacer) {
		r.exit = fn
	}
}

func NewReplacer(opts ...ReplacerOptionFunc) *Replacer {
	r := &Replacer{
		mode: ModeExec,
		exec: execProcess,
		exit: os.Exit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("component", "upgrade")
	return r
}

// Replace starts the binary at path in place of the running process. It
// only returns on failure.
func (r *Replacer) Replace(path string) error {
	switch r.mode {
	case ModeExit:
		r.logger.Warn("exiting for supervisor restart", "path", path)
		r.exit(0)
		return nil
	case ModeExec:
		argv := append([]string{path}, os.Args[1:]...)
		r.logger.Warn("executing release", "path", path)
		if err := r.exec(path, argv, os.Environ()); err != nil {
			return fmt.Errorf("exec %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown replacement mode %q", r.mode)
	}
}
