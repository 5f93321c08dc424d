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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blkluv/taggr/api"
	"github.com/blkluv/taggr/persistence"
)

var backupFlags = struct {
	url     string
	out     string
	timeout time.Duration
}{}

// fetchBackup pulls every page of one backup pass and writes them in order
func fetchBackup(
	ctx context.Context,
	client *http.Client,
	baseURL string,
	w io.Writer,
) (api.BackupResponse, error) {
	var pass api.BackupResponse
	baseURL = strings.TrimRight(baseURL, "/")
	if err := getJSON(ctx, client, baseURL+"/api/v1/backup", &pass); err != nil {
		return pass, fmt.Errorf("begin backup: %w", err)
	}
	var written uint64
	for i := range pass.Pages {
		url := fmt.Sprintf(
			"%s/api/v1/backup/%d?generation=%d",
			baseURL, i, pass.Generation,
		)
		n, err := copyPage(ctx, client, url, w)
		if err != nil {
			return pass, fmt.Errorf("page %d: %w", i, err)
		}
		written += n
	}
	if written != pass.Extent {
		return pass, fmt.Errorf(
			"backup truncated: got %d of %d bytes",
			written, pass.Extent,
		)
	}
	return pass, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func copyPage(
	ctx context.Context,
	client *http.Client,
	url string,
	w io.Writer,
) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	return uint64(n), err //nolint:gosec // io.Copy never returns a negative count
}

func responseError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil ||
		body.Message == "" {
		return errors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, body.Message)
}

func backupRun(cmd *cobra.Command, _ []string) error {
	logger := commonRun()
	if backupFlags.out == "" {
		return errors.New("--out is required")
	}
	f, err := os.Create(backupFlags.out)
	if err != nil {
		return err
	}
	defer f.Close()
	client := &http.Client{Timeout: backupFlags.timeout}
	pass, err := fetchBackup(cmd.Context(), client, backupFlags.url, f)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	// Make sure the pass decodes before reporting success
	data, err := os.ReadFile(backupFlags.out)
	if err != nil {
		return err
	}
	if _, err := persistence.DecodeSnapshot(data); err != nil {
		return fmt.Errorf("backup does not decode: %w", err)
	}
	logger.Info(
		"backup complete",
		"component", programName,
		slog.Uint64("generation", pass.Generation),
		slog.Uint64("bytes", pass.Extent),
		slog.String("path", backupFlags.out),
	)
	return nil
}

func backupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Download a full state backup from a running service",
		RunE:  backupRun,
	}
	cmd.Flags().StringVar(&backupFlags.url, "url", "http://localhost:7070", "base URL of the service")
	cmd.Flags().StringVar(&backupFlags.out, "out", "", "file to write the backup to")
	cmd.Flags().DurationVar(&backupFlags.timeout, "timeout", time.Minute, "timeout for each request")
	return cmd
}
