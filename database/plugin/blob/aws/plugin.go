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

package aws

import (
	"sync"
	"time"

	"github.com/blkluv/taggr/database/plugin"
)

var (
	cmdlineOptions struct {
		endpoint       string
		bucket         string
		region         string
		prefix         string
		sse            string
		pathStyle      bool
		timeoutSeconds uint64
	}
	cmdlineOptionsMutex sync.RWMutex
)

func init() {
	cmdlineOptions.timeoutSeconds = uint64(defaultTimeout / time.Second)
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeBlob,
			Name:               "s3",
			Description:        "S3 or S3-compatible object storage for state snapshots",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "bucket",
					Type:         plugin.PluginOptionTypeString,
					Description:  "bucket holding snapshot pages",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.bucket),
				},
				{
					Name:         "prefix",
					Type:         plugin.PluginOptionTypeString,
					Description:  "object key prefix",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.prefix),
				},
				{
					Name:         "region",
					Type:         plugin.PluginOptionTypeString,
					Description:  "AWS region (defaults to the SDK environment)",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.region),
				},
				{
					Name:         "endpoint",
					Type:         plugin.PluginOptionTypeString,
					Description:  "endpoint URL of an S3-compatible server",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.endpoint),
				},
				{
					Name:         "path-style",
					Type:         plugin.PluginOptionTypeBool,
					Description:  "use path-style addressing (implied by endpoint)",
					DefaultValue: false,
					Dest:         &(cmdlineOptions.pathStyle),
				},
				{
					Name:         "sse",
					Type:         plugin.PluginOptionTypeString,
					Description:  "server-side encryption for snapshot pages: AES256 or aws:kms",
					DefaultValue: "",
					Dest:         &(cmdlineOptions.sse),
				},
				{
					Name:         "timeout-seconds",
					Type:         plugin.PluginOptionTypeUint,
					Description:  "timeout for each request",
					DefaultValue: uint64(defaultTimeout / time.Second),
					Dest:         &(cmdlineOptions.timeoutSeconds),
				},
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	opts := []BlobStoreS3OptionFunc{
		WithEndpoint(cmdlineOptions.endpoint),
		WithBucket(cmdlineOptions.bucket),
		WithRegion(cmdlineOptions.region),
		WithPrefix(cmdlineOptions.prefix),
		WithPathStyle(cmdlineOptions.pathStyle),
		WithServerSideEncryption(cmdlineOptions.sse),
		WithTimeout(time.Duration(cmdlineOptions.timeoutSeconds) * time.Second), //nolint:gosec // bounded by config
		WithLogger(plugin.Logger()),
		WithPromRegistry(plugin.PromRegistry()),
	}
	cmdlineOptionsMutex.RUnlock()
	p, err := NewWithOptions(opts...)
	if err != nil {
		// Return a plugin that defers the error to Start()
		return plugin.NewErrorPlugin(err)
	}
	return p
}
