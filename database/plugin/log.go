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

package plugin

import (
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Plugins are constructed from the registry without arguments, so the logger
// and metrics registry they use are set here by the host before StartPlugin
var (
	runtimeLogger       *slog.Logger
	runtimePromRegistry prometheus.Registerer
	runtimeMutex        sync.RWMutex
)

// SetLogger sets the logger handed to plugins created after this call
func SetLogger(logger *slog.Logger) {
	runtimeMutex.Lock()
	defer runtimeMutex.Unlock()
	runtimeLogger = logger
}

// Logger returns the plugin logger, or one that discards everything
func Logger() *slog.Logger {
	runtimeMutex.RLock()
	defer runtimeMutex.RUnlock()
	if runtimeLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return runtimeLogger
}

// SetPromRegistry sets the metrics registry handed to plugins created after
// this call. A nil registry disables plugin metrics.
func SetPromRegistry(registry prometheus.Registerer) {
	runtimeMutex.Lock()
	defer runtimeMutex.Unlock()
	runtimePromRegistry = registry
}

// PromRegistry returns the plugin metrics registry, which may be nil
func PromRegistry() prometheus.Registerer {
	runtimeMutex.RLock()
	defer runtimeMutex.RUnlock()
	return runtimePromRegistry
}
