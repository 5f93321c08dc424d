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

package sqlite

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blkluv/taggr/database/models"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	vacuumInterval = 24 * time.Hour
	pruneInterval  = 6 * time.Hour
)

// MetadataStoreSqlite is a SQLite-based implementation of the metadata store.
// It keeps the governance audit log: proposals, votes, upgrades, emergency
// steps and checkpoints.
type MetadataStoreSqlite struct {
	promRegistry prometheus.Registerer
	rowsWritten  *prometheus.CounterVec
	db           *gorm.DB
	logger       *slog.Logger
	timerVacuum  *time.Timer
	timerPrune   *time.Timer
	timerMutex   sync.Mutex
	dataDir      string
	retention    time.Duration
	closed       bool
	maintWG      sync.WaitGroup
}

// New creates a SQLite metadata store. Uses in-memory database if dataDir is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*MetadataStoreSqlite, error) {
	db, err := NewWithOptions(
		WithDataDir(dataDir),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
	if err != nil {
		return nil, err
	}
	if err := db.Start(); err != nil {
		return nil, err
	}
	return db, nil
}

// NewWithOptions creates a SQLite metadata store without opening it
func NewWithOptions(opts ...SqliteOptionFunc) (*MetadataStoreSqlite, error) {
	db := &MetadataStoreSqlite{}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return db, nil
}

// Start implements the plugin.Plugin interface. It opens the database and
// applies migrations.
func (d *MetadataStoreSqlite) Start() error {
	gormConfig := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	var dsn string
	if d.dataDir == "" {
		// Use in-memory database when no data directory is specified, useful for testing.
		// A single connection keeps every query on the same in-memory database.
		dsn = "file::memory:"
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(d.dataDir, fs.ModePerm); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// WAL journal mode, increase cache size to 50MB (from 2MB)
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=cache_size(-50000)",
			filepath.Join(d.dataDir, "audit.sqlite"),
		)
	}
	metadataDb, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return err
	}
	d.db = metadataDb
	if d.dataDir == "" {
		sqlDb, err := d.db.DB()
		if err != nil {
			return fmt.Errorf("get database handle: %w", err)
		}
		sqlDb.SetMaxOpenConns(1)
	}
	if err := d.init(); err != nil {
		return err
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(
			fmt.Sprintf("creating table: %T", model),
			"component", "database",
		)
		if err := d.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreSqlite) Stop() error {
	return d.Close()
}

func (d *MetadataStoreSqlite) init() error {
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	d.registerMetrics()
	// Schedule daily database vacuum to free unused space
	d.scheduleDailyVacuum()
	if d.retention > 0 {
		d.schedulePrune()
	}
	return nil
}

func (d *MetadataStoreSqlite) runMaintenance(fn func() error) error {
	d.timerMutex.Lock()
	if d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this operation while we know the store is open
	d.maintWG.Add(1)
	d.timerMutex.Unlock()
	defer d.maintWG.Done()
	return fn()
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (d *MetadataStoreSqlite) scheduleDailyVacuum() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
	}
	f := func() {
		// schedule next run
		defer d.scheduleDailyVacuum()
		err := d.runMaintenance(func() error {
			if d.dataDir == "" {
				return nil
			}
			d.logger.Debug(
				"running vacuum on sqlite metadata database",
				"component", "database",
			)
			return d.db.Exec("VACUUM").Error
		})
		if err != nil {
			d.logger.Error(
				"failed to free unused space in metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerVacuum = time.AfterFunc(vacuumInterval, f)
}

// schedulePrune removes audit rows older than the retention period
func (d *MetadataStoreSqlite) schedulePrune() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerPrune != nil {
		d.timerPrune.Stop()
	}
	f := func() {
		defer d.schedulePrune()
		err := d.runMaintenance(func() error {
			removed, err := d.prune(time.Now().Add(-d.retention))
			if err == nil && removed > 0 {
				d.logger.Info(
					fmt.Sprintf("pruned %d audit rows", removed),
					"component", "database",
				)
			}
			return err
		})
		if err != nil {
			d.logger.Error(
				"failed to prune metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerPrune = time.AfterFunc(pruneInterval, f)
}

// Close shuts down the database connection and stops background processes.
func (d *MetadataStoreSqlite) Close() error {
	d.timerMutex.Lock()
	if d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	if d.timerPrune != nil {
		d.timerPrune.Stop()
		d.timerPrune = nil
	}
	d.timerMutex.Unlock()
	// Wait for any in-flight maintenance to complete
	d.maintWG.Wait()
	if d.db == nil {
		return nil
	}
	// get DB handle from gorm.DB
	db, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}

// DB returns the underlying GORM database handle.
func (d *MetadataStoreSqlite) DB() *gorm.DB {
	return d.db
}
