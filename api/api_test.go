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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/api"
	"github.com/blkluv/taggr/database"
	"github.com/blkluv/taggr/database/plugin/blob/badger"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/state"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server  *httptest.Server
	machine *state.Machine
	store   *database.SnapshotStore
}

// newTestEnv starts a server over a world where alice holds 100, bob 1000,
// carol 50 and the treasury 200. Bob is a stalwart.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	world, err := state.NewWorld(state.WorldConfig{Policy: governance.DefaultPolicy()})
	require.NoError(t, err)
	machine := state.NewMachine(world)
	machine.Start()
	blobStore, err := badger.New()
	require.NoError(t, err)
	store := database.NewSnapshotStore(blobStore)
	protocol, err := persistence.New(persistence.Config{
		Machine:   machine,
		Snapshots: store,
	})
	require.NoError(t, err)
	err = protocol.Restore(context.Background())
	require.ErrorIs(t, err, governance.ErrSnapshotUnavailable)

	require.NoError(t, machine.Mutate(context.Background(), func(w *state.World) error {
		for name, amount := range map[string]uint64{"alice": 100, "bob": 1000, "carol": 50} {
			if _, err := w.Users.Create(name, name); err != nil {
				return err
			}
			if err := w.Ledger.Mint(ledger.NewAccount(name), amount, "", testNow); err != nil {
				return err
			}
		}
		if _, err := w.Users.Create("dave", "dave"); err != nil {
			return err
		}
		bob, _ := w.Users.ByPrincipal("bob")
		if err := w.Users.SetStalwart(bob.ID, true); err != nil {
			return err
		}
		return w.Ledger.Mint(ledger.TreasuryAccount, 200, "", testNow)
	}))

	a := api.New(api.Config{
		Machine: machine,
		Backups: protocol,
		Now:     func() time.Time { return testNow },
	})
	server := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		server.Close()
		protocol.Stop()
		machine.Stop()
		_ = blobStore.Close()
	})
	return &testEnv{server: server, machine: machine, store: store}
}

func (e *testEnv) do(
	t *testing.T,
	method, path, principal string,
	body any,
) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(
		context.Background(), method, e.server.URL+path, reader,
	)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if principal != "" {
		req.Header.Set(api.PrincipalHeader, principal)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireError(t *testing.T, resp *http.Response, status int) api.ErrorResponse {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	errResp := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, status, errResp.StatusCode)
	assert.Equal(t, http.StatusText(status), errResp.Error)
	return errResp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[api.HealthResponse](t, resp).IsHealthy)
}

func TestGRPCHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(
		t,
		http.MethodPost,
		"/grpc.health.v1.Health/Check",
		"",
		map[string]string{"service": api.ServiceName},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "SERVING")
}

func TestProposeRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/proposals/reward", "", api.RewardRequest{
		Description: "x",
		Receiver:    "carol",
	})
	requireError(t, resp, http.StatusUnauthorized)
}

func TestFundScenario(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/proposals/fund", "alice", api.FundRequest{
		Description: "pay carol",
		Receiver:    "carol",
		Amount:      5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody[api.CreatedResponse](t, resp).ID
	path := "/api/v1/proposals/" + strconv.FormatUint(id, 10)

	resp = env.do(t, http.MethodPost, path+"/vote", "carol", api.VoteRequest{Approve: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "open", decodeBody[api.ProposalResponse](t, resp).Status)

	resp = env.do(t, http.MethodPost, path+"/vote", "bob", api.VoteRequest{Approve: true})
	requireError(t, resp, http.StatusPreconditionFailed)

	resp = env.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[api.ProposalResponse](t, resp)
	assert.Equal(t, "rejected", p.Status)
	assert.Equal(t, "insufficient treasury", p.Reason)
	require.NotNil(t, p.Fund)
	assert.Equal(t, uint64(500), p.Fund.Amount)
	require.NotNil(t, p.Tally)
	assert.Equal(t, uint64(1050), p.Tally.Approve)
	assert.Len(t, p.Votes, 2)

	resp = env.do(t, http.MethodPost, path+"/vote", "alice", api.VoteRequest{Approve: true})
	requireError(t, resp, http.StatusConflict)
}

func TestVoteErrors(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/proposals/reward", "alice", api.RewardRequest{
		Description: "reward carol",
		Receiver:    "carol",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/vote", "dave", api.VoteRequest{Approve: true})
	requireError(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/42/vote", "bob", api.VoteRequest{Approve: true})
	requireError(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/nope/vote", "bob", api.VoteRequest{Approve: true})
	requireError(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodGet, "/api/v1/proposals/0", "", nil)
	p := decodeBody[api.ProposalResponse](t, resp)
	assert.Empty(t, p.Votes)
}

func TestReleaseDigestVote(t *testing.T) {
	env := newTestEnv(t)
	binary := []byte("release binary")
	resp := env.do(t, http.MethodPost, "/api/v1/proposals/release", "alice", api.ReleaseRequest{
		Description: "v2",
		Commit:      "abc123",
		Binary:      binary,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/vote", "bob", api.VoteRequest{
		Approve: true,
		Data:    governance.Digest([]byte("other")),
	})
	requireError(t, resp, http.StatusUnprocessableEntity)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/vote", "bob", api.VoteRequest{
		Approve: true,
		Data:    governance.Digest(binary),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[api.ProposalResponse](t, resp)
	assert.Equal(t, "executed", p.Status)
	require.NotNil(t, p.Release)
	assert.Equal(t, governance.Digest(binary), p.Release.Hash)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/proposals/reward", "alice", api.RewardRequest{
		Description: "reward carol",
		Receiver:    "carol",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/cancel", "bob", nil)
	requireError(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", decodeBody[api.ProposalResponse](t, resp).Status)

	resp = env.do(t, http.MethodPost, "/api/v1/proposals/0/cancel", "alice", nil)
	requireError(t, resp, http.StatusConflict)
}

func TestListProposals(t *testing.T) {
	env := newTestEnv(t)
	for i := range 12 {
		resp := env.do(t, http.MethodPost, "/api/v1/proposals/reward", "alice", api.RewardRequest{
			Description: "reward " + strconv.Itoa(i),
			Receiver:    "carol",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/v1/proposals", "", nil)
	first := decodeBody[[]api.ProposalResponse](t, resp)
	require.Len(t, first, governance.DefaultPageSize)
	assert.Equal(t, uint32(11), first[0].ID)

	resp = env.do(t, http.MethodGet, "/api/v1/proposals?page=1", "", nil)
	second := decodeBody[[]api.ProposalResponse](t, resp)
	require.Len(t, second, 2)
	assert.Equal(t, uint32(0), second[1].ID)

	resp = env.do(t, http.MethodGet, "/api/v1/proposals?page=-1", "", nil)
	requireError(t, resp, http.StatusBadRequest)

	// Pages past the end are empty, however large
	resp = env.do(t, http.MethodGet, "/api/v1/proposals?page=922337203685477581", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]api.ProposalResponse](t, resp))
}

func TestEmergency(t *testing.T) {
	env := newTestEnv(t)
	binary := []byte("emergency binary")

	resp := env.do(t, http.MethodPost, "/api/v1/emergency/release", "alice",
		api.EmergencyReleaseRequest{Binary: binary})
	requireError(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodPost, "/api/v1/emergency/release", "bob",
		api.EmergencyReleaseRequest{Binary: binary})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[api.EmergencyStatusResponse](t, resp)
	assert.Equal(t, governance.Digest(binary), status.Hash)

	resp = env.do(t, http.MethodPost, "/api/v1/emergency/confirm", "alice",
		api.EmergencyConfirmRequest{Digest: "  " + strings.ToUpper(governance.Digest(binary)) + "\n"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/emergency/confirm", "carol",
		api.EmergencyConfirmRequest{Digest: "deadbeef"})
	requireError(t, resp, http.StatusUnprocessableEntity)

	resp = env.do(t, http.MethodPost, "/api/v1/emergency/force", "alice", nil)
	requireError(t, resp, http.StatusPreconditionFailed)

	resp = env.do(t, http.MethodGet, "/api/v1/emergency", "", nil)
	status = decodeBody[api.EmergencyStatusResponse](t, resp)
	assert.Equal(t, 1, status.Confirmations)
	assert.Equal(t, uint64(100), status.Confirmed)
	assert.Equal(t, uint64(1350), status.Supply)
}

func TestBackup(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/backup", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pass := decodeBody[api.BackupResponse](t, resp)
	assert.Equal(t, uint64(1), pass.Generation)
	assert.Equal(t, uint64(database.BackupPageSize), pass.PageSize)

	var buf bytes.Buffer
	for i := range uint64(pass.Pages) + 1 {
		resp := env.do(t, http.MethodGet,
			"/api/v1/backup/"+strconv.FormatUint(i, 10)+
				"?generation="+strconv.FormatUint(pass.Generation, 10),
			"", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, strconv.FormatUint(i, 10), resp.Header.Get("X-Taggr-Backup-Page"))
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if i == uint64(pass.Pages) {
			assert.Empty(t, data)
		}
		buf.Write(data)
	}
	data, _, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
	assert.Equal(t, pass.Extent, uint64(buf.Len()))

	resp = env.do(t, http.MethodGet, "/api/v1/backup/0?generation=99", "", nil)
	requireError(t, resp, http.StatusNotFound)
	resp = env.do(t, http.MethodGet, "/api/v1/backup/x", "", nil)
	requireError(t, resp, http.StatusBadRequest)
}

func TestBalancesAndTransactions(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/balances", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balances := decodeBody[[]api.BalanceResponse](t, resp)
	assert.Equal(t, []api.BalanceResponse{
		{Owner: "alice", Balance: 100},
		{Owner: "bob", Balance: 1000},
		{Owner: "carol", Balance: 50},
		{Owner: "treasury", Balance: 200},
	}, balances)

	resp = env.do(t, http.MethodGet, "/api/v1/transactions", "", nil)
	txs := decodeBody[[]api.TransactionResponse](t, resp)
	require.Len(t, txs, 4)
	assert.Equal(t, "treasury", txs[0].To.Owner)
	assert.Equal(t, "minting", txs[0].From.Owner)

	resp = env.do(t, http.MethodGet, "/api/v1/transactions?search=bo", "", nil)
	txs = decodeBody[[]api.TransactionResponse](t, resp)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(1000), txs[0].Amount)

	resp = env.do(t, http.MethodGet, "/api/v1/transactions?page=922337203685477581", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]api.TransactionResponse](t, resp))
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/users", "erin-principal", api.CreateUserRequest{Name: "erin"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := decodeBody[api.UserResponse](t, resp)
	assert.Equal(t, "erin", user.Name)
	assert.Equal(t, "erin-principal", user.Principal)

	resp = env.do(t, http.MethodPost, "/api/v1/users", "erin-principal", api.CreateUserRequest{Name: "erin2"})
	requireError(t, resp, http.StatusConflict)
}

func TestInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequestWithContext(
		context.Background(),
		http.MethodPost,
		env.server.URL+"/api/v1/proposals/reward",
		strings.NewReader(`{"bogus": 1}`),
	)
	require.NoError(t, err)
	req.Header.Set(api.PrincipalHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	requireError(t, resp, http.StatusBadRequest)
}
