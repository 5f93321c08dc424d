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

package aws_test

import (
	"testing"

	"github.com/blkluv/taggr/database/plugin"
	"github.com/blkluv/taggr/database/plugin/blob/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesURL(t *testing.T) {
	tests := []struct {
		dataDir string
		wantErr bool
	}{
		{dataDir: "s3://bucket"},
		{dataDir: "s3://bucket/prefix/"},
		{dataDir: "s3://", wantErr: true},
		{dataDir: "gcs://bucket", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dataDir, func(t *testing.T) {
			store, err := aws.New(tt.dataDir, nil, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "bucket", store.Bucket())
		})
	}
}

func TestNewFromCmdlineOptions(t *testing.T) {
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "bucket", "test-bucket"))
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "region", "us-east-1"))
	t.Cleanup(func() {
		_ = plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "bucket", "")
		_ = plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "region", "")
	})
	p := aws.NewFromCmdlineOptions()
	require.NotNil(t, p)
	store, ok := p.(*aws.BlobStoreS3)
	require.True(t, ok)
	assert.Equal(t, "test-bucket", store.Bucket())
}

func TestUnstartedStoreUnavailable(t *testing.T) {
	store, err := aws.NewWithOptions(aws.WithBucket("b"))
	require.NoError(t, err)
	_, err = store.Get(t.Context(), "k")
	require.Error(t, err)
	require.ErrorContains(t, store.Put(t.Context(), "k", nil), "unavailable")
}

func TestStartWithoutBucket(t *testing.T) {
	store, err := aws.NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, store.Start(), "bucket not set")
}

func TestServerSideEncryptionValidated(t *testing.T) {
	_, err := aws.NewWithOptions(aws.WithBucket("b"), aws.WithServerSideEncryption("aws:kms"))
	require.NoError(t, err)
	_, err = aws.NewWithOptions(aws.WithBucket("b"), aws.WithServerSideEncryption("rot13"))
	require.ErrorContains(t, err, "server-side encryption")
}

func TestCmdlineOptionsRejectBadEncryption(t *testing.T) {
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "sse", "rot13"))
	t.Cleanup(func() {
		_ = plugin.SetPluginOption(plugin.PluginTypeBlob, "s3", "sse", "")
	})
	p := aws.NewFromCmdlineOptions()
	require.ErrorContains(t, p.Start(), "server-side encryption")
}
