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

// Package database stores snapshots in a blob plugin and the governance
// audit log in a metadata plugin.
package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blkluv/taggr/database/plugin"
	"github.com/blkluv/taggr/database/plugin/blob"
	"github.com/blkluv/taggr/database/plugin/metadata"
	"github.com/prometheus/client_golang/prometheus"
)

// Config selects the storage plugins. Plugin options are set through the
// plugin registry before New is called.
type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	BlobPlugin     string
	MetadataPlugin string // empty disables the audit log
	// Encrypt snapshot pages with SOPS
	EncryptSnapshots  bool
	RetainGenerations int
}

type Database struct {
	logger    *slog.Logger
	blob      blob.BlobStore
	metadata  metadata.MetadataStore
	snapshots *SnapshotStore
	audit     *AuditRecorder
}

// New starts the configured plugins and returns a database using them
func New(cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BlobPlugin == "" {
		return nil, fmt.Errorf("blob plugin: %w", errNoPlugin)
	}
	plugin.SetLogger(cfg.Logger)
	plugin.SetPromRegistry(cfg.PromRegistry)
	blobDb, err := blob.New(cfg.BlobPlugin)
	if err != nil {
		return nil, err
	}
	var metadataDb metadata.MetadataStore
	if cfg.MetadataPlugin != "" {
		metadataDb, err = metadata.New(cfg.MetadataPlugin)
		if err != nil {
			_ = blobDb.Close()
			return nil, err
		}
	}
	return NewFromStores(cfg, blobDb, metadataDb), nil
}

// NewFromStores returns a database over already started stores. The
// metadata store may be nil.
func NewFromStores(
	cfg Config,
	blobDb blob.BlobStore,
	metadataDb metadata.MetadataStore,
) *Database {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d := &Database{
		logger:   cfg.Logger,
		blob:     blobDb,
		metadata: metadataDb,
		snapshots: NewSnapshotStore(
			blobDb,
			WithSnapshotLogger(cfg.Logger),
			WithEncryption(cfg.EncryptSnapshots),
			WithRetainGenerations(cfg.RetainGenerations),
		),
	}
	if metadataDb != nil {
		d.audit = NewAuditRecorder(metadataDb, cfg.Logger)
	}
	return d
}

var errNoPlugin = errors.New("no plugin selected")

// Blob returns the underlying blob store instance
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// Metadata returns the underlying metadata store instance, or nil when the
// audit log is disabled
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Snapshots returns the snapshot store
func (d *Database) Snapshots() *SnapshotStore {
	return d.snapshots
}

// Audit returns the audit recorder, or nil when the audit log is disabled
func (d *Database) Audit() *AuditRecorder {
	return d.audit
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Close stops the audit recorder and closes both stores
func (d *Database) Close() error {
	var err error
	if d.audit != nil {
		d.audit.Stop()
	}
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	err = errors.Join(err, d.blob.Close())
	return err
}
