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

package types

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SnapshotHeadKey       = "snapshot/head"
	SnapshotPageKeyPrefix = "snapshot/gen/"
)

// SnapshotGenerationPrefix returns the key prefix shared by every page of a
// snapshot generation
func SnapshotGenerationPrefix(generation uint64) string {
	// Zero-padded so that lexical and numeric order agree
	return fmt.Sprintf("%s%020d/", SnapshotPageKeyPrefix, generation)
}

// SnapshotChunkKey returns the blob key for one stored chunk of a snapshot
// generation
func SnapshotChunkKey(generation uint64, page int) string {
	return fmt.Sprintf("%s%08d", SnapshotGenerationPrefix(generation), page)
}

// SnapshotGenerationFromKey returns the generation encoded in a page key
func SnapshotGenerationFromKey(key string) (uint64, bool) {
	rest, ok := strings.CutPrefix(key, SnapshotPageKeyPrefix)
	if !ok {
		return 0, false
	}
	genStr, _, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}
