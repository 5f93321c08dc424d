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

package upgrade_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/upgrade"
)

func release(binary []byte) governance.UpgradeRequest {
	return governance.UpgradeRequest{
		Source: governance.UpgradeSourceProposal,
		Commit: "abc123",
		Hash:   governance.Digest(binary),
		Binary: binary,
	}
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	inst := upgrade.NewInstaller(dir, nil)
	req := release([]byte("#!/bin/sh\necho hi\n"))

	path, err := inst.Install(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "releases", req.Hash), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, req.Binary, data)
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	again, err := inst.Install(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	entries, err := os.ReadDir(filepath.Join(dir, "releases"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestInstallRejectsBadBinary(t *testing.T) {
	inst := upgrade.NewInstaller(t.TempDir(), nil)
	req := release([]byte("binary"))
	req.Hash = governance.Digest([]byte("other"))
	_, err := inst.Install(context.Background(), req)
	require.ErrorIs(t, err, upgrade.ErrHashMismatch)

	_, err = inst.Install(context.Background(), governance.UpgradeRequest{})
	require.ErrorIs(t, err, governance.ErrInvalidPayload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inst.Install(ctx, release([]byte("binary")))
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplaceExec(t *testing.T) {
	var gotPath string
	var gotArgv []string
	r := upgrade.NewReplacer(
		upgrade.WithExecFunc(func(path string, argv []string, env []string) error {
			gotPath = path
			gotArgv = argv
			return errors.New("exec format error")
		}),
	)
	err := r.Replace("/data/releases/abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec format error")
	assert.Equal(t, "/data/releases/abc", gotPath)
	require.NotEmpty(t, gotArgv)
	assert.Equal(t, "/data/releases/abc", gotArgv[0])
}

func TestReplaceExit(t *testing.T) {
	code := -1
	r := upgrade.NewReplacer(
		upgrade.WithMode(upgrade.ModeExit),
		upgrade.WithExitFunc(func(c int) { code = c }),
	)
	require.NoError(t, r.Replace("/data/releases/abc"))
	assert.Equal(t, 0, code)
}

func TestReplaceUnknownMode(t *testing.T) {
	r := upgrade.NewReplacer(upgrade.WithMode("reboot"))
	require.Error(t, r.Replace("/x"))
}
