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

package blob

import (
	"context"
	"fmt"

	"github.com/blkluv/taggr/database/plugin"
	"github.com/blkluv/taggr/database/types"
)

// BlobStore is a flat key/value store for snapshot pages and head records.
// Get returns types.ErrBlobKeyNotFound for a missing key.
type BlobStore interface {
	plugin.Plugin
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the keys with the given prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Batcher is implemented by stores that can write several keys atomically
type Batcher interface {
	PutAll(ctx context.Context, entries []types.BlobEntry) error
}

// PutAll writes entries in order, atomically when the store supports it
func PutAll(
	ctx context.Context,
	store BlobStore,
	entries []types.BlobEntry,
) error {
	if b, ok := store.(Batcher); ok {
		return b.PutAll(ctx, entries)
	}
	for _, entry := range entries {
		if err := store.Put(ctx, entry.Key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// New returns the started blob plugin selected by name
func New(pluginName string) (BlobStore, error) {
	// Get and start the plugin
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName)
	if err != nil {
		return nil, err
	}

	// Type assert to BlobStore interface
	blobStore, ok := p.(BlobStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}

	return blobStore, nil
}
