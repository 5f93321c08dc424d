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

package gcs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blkluv/taggr/database/plugin"
	"github.com/blkluv/taggr/database/plugin/blob/gcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialValidation(t *testing.T) {
	tempDir := t.TempDir()
	existing := filepath.Join(tempDir, "credentials.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	tests := []struct {
		name            string
		credentialsFile string
		errorMessage    string
	}{
		{name: "valid credentials file", credentialsFile: existing},
		{
			name:            "nonexistent credentials file",
			credentialsFile: filepath.Join(tempDir, "nonexistent-credentials.json"),
			errorMessage:    "GCS credentials file does not exist",
		},
		{name: "empty credentials file path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gcs.ValidateCredentials(tt.credentialsFile)
			if tt.errorMessage == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errorMessage)
		})
	}
}

func TestNewParsesURL(t *testing.T) {
	_, err := gcs.New("s3://bucket", nil, nil)
	require.Error(t, err)
	_, err = gcs.New("gcs://", nil, nil)
	require.Error(t, err)
	store, err := gcs.New("gcs://bucket/snapshots/", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestStartWithoutBucket(t *testing.T) {
	store, err := gcs.NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, store.Start(), "bucket not set")
	// Closing a store that never started is a no-op
	require.NoError(t, store.Close())
}

func TestRegistered(t *testing.T) {
	var found bool
	for _, p := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if p.Name == "gcs" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStorageClassOption(t *testing.T) {
	var names []string
	for _, p := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if p.Name != "gcs" {
			continue
		}
		for _, opt := range p.Options {
			names = append(names, opt.Name)
		}
	}
	assert.Contains(t, names, "storage-class")
	store, err := gcs.NewWithOptions(gcs.WithStorageClass("COLDLINE"))
	require.NoError(t, err)
	assert.NotNil(t, store)
}
