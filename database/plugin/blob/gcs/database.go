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

package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/blkluv/taggr/database/plugin/blob"
	"github.com/blkluv/taggr/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const startupTimeout = 30 * time.Second

// BlobStoreGCS stores data in a Google Cloud Storage bucket.
type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *blob.Logger
	metrics         *blob.Metrics
	client          *storage.Client
	bucket          *storage.BucketHandle
	bucketName      string
	prefix          string
	credentialsFile string
	storageClass    string
}

// New creates a new GCS-backed blob store from a "gcs://<bucket>[/prefix]" URL
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	after, ok := strings.CutPrefix(dataDir, "gcs://")
	if !ok || after == "" {
		return nil, errors.New(
			"gcs blob: bucket not set (expected dataDir='gcs://<bucket>[/prefix]')",
		)
	}
	bucketName, keyPrefix, _ := strings.Cut(after, "/")
	return NewWithOptions(
		WithBucket(bucketName),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// NewWithOptions creates a new GCS-backed blob store using options.
func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	db := &BlobStoreGCS{}

	// Apply options
	for _, opt := range opts {
		opt(db)
	}

	// Set defaults
	if db.logger == nil {
		db.logger = blob.NewLogger(nil)
	}
	db.prefix = normalizePrefix(db.prefix)

	return db, nil
}

// ValidateCredentials checks that a configured credentials file exists
func ValidateCredentials(credentialsFile string) error {
	if credentialsFile == "" {
		return nil
	}
	if _, err := os.Stat(credentialsFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf(
				"GCS credentials file does not exist: %s",
				credentialsFile,
			)
		}
		return fmt.Errorf("gcs blob: read credentials file: %w", err)
	}
	return nil
}

// Start implements the plugin.Plugin interface.
func (d *BlobStoreGCS) Start() error {
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}
	if err := ValidateCredentials(d.credentialsFile); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if d.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(d.credentialsFile),
		)
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}
	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	d.metrics = blob.NewMetrics(d.promRegistry, "gcs")
	return nil
}

// Stop implements the plugin.Plugin interface.
func (d *BlobStoreGCS) Stop() error {
	return d.Close()
}

// Close closes the GCS client.
func (d *BlobStoreGCS) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.bucket = nil
	return err
}

// Get reads the object stored at key
func (d *BlobStoreGCS) Get(ctx context.Context, key string) ([]byte, error) {
	if d.bucket == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	r, err := d.bucket.Object(d.fullKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			d.metrics.ObserveMiss("get")
			return nil, types.ErrBlobKeyNotFound
		}
		d.metrics.Observe("get", 0, err)
		d.logger.Errorf("gcs get %q failed: %v", key, err)
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		d.logger.Errorf("gcs read %q failed: %v", key, err)
		return nil, err
	}
	d.logger.Debugf("gcs get %q ok (%d bytes)", key, len(data))
	return data, nil
}

// Put writes value to key
func (d *BlobStoreGCS) Put(ctx context.Context, key string, value []byte) error {
	if d.bucket == nil {
		return types.ErrBlobStoreUnavailable
	}
	w := d.bucket.Object(d.fullKey(key)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if d.storageClass != "" {
		w.StorageClass = d.storageClass
	}
	if _, err := io.Copy(w, bytes.NewReader(value)); err != nil {
		_ = w.Close()
		d.metrics.Observe("put", 0, err)
		d.logger.Errorf("gcs put %q failed: %v", key, err)
		return err
	}
	// The object is only committed on Close
	err := w.Close()
	d.metrics.Observe("put", len(value), err)
	if err != nil {
		d.logger.Errorf("gcs put %q failed: %v", key, err)
		return err
	}
	d.logger.Debugf("gcs put %q ok (%d bytes)", key, len(value))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (d *BlobStoreGCS) Delete(ctx context.Context, key string) error {
	if d.bucket == nil {
		return types.ErrBlobStoreUnavailable
	}
	err := d.bucket.Object(d.fullKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		d.metrics.Observe("delete", 0, err)
		d.logger.Errorf("gcs delete %q failed: %v", key, err)
		return err
	}
	d.metrics.Observe("delete", 0, nil)
	return nil
}

// List returns the keys with the given prefix in lexical order
func (d *BlobStoreGCS) List(ctx context.Context, prefix string) ([]string, error) {
	if d.bucket == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	it := d.bucket.Objects(ctx, &storage.Query{Prefix: d.fullKey(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			d.metrics.Observe("list", 0, err)
			d.logger.Errorf("gcs list %q failed: %v", prefix, err)
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, d.prefix))
	}
	sort.Strings(keys)
	d.metrics.Observe("list", 0, nil)
	return keys, nil
}

// Client returns the GCS client.
func (d *BlobStoreGCS) Client() *storage.Client {
	return d.client
}

func (d *BlobStoreGCS) fullKey(key string) string {
	return d.prefix + key
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
