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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/state"
)

const (
	backupGenerationHeader = "X-Taggr-Backup-Generation"
	backupPageHeader       = "X-Taggr-Backup-Page"
)

// caller returns the principal from the request header
func caller(r *http.Request) (string, error) {
	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		return "", errUnauthenticated
	}
	return principal, nil
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func proposalID(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", governance.ErrProposalNotFound, r.PathValue("id"))
	}
	return uint32(id), nil
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: true})
}

// propose runs create on the state machine for the calling principal
func (a *API) propose(
	w http.ResponseWriter,
	r *http.Request,
	create func(*state.World, identity.Caller) (uint32, error),
) {
	principal, err := caller(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	var id uint32
	err = a.config.Machine.Mutate(r.Context(), func(world *state.World) error {
		var err error
		id, err = create(world, world.Caller(principal))
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: uint64(id)})
}

func (a *API) handleProposeRelease(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.propose(w, r, func(world *state.World, c identity.Caller) (uint32, error) {
		return world.Governance.ProposeRelease(
			r.Context(), c, req.Description, req.Commit, req.Binary, a.config.Now(),
		)
	})
}

func (a *API) handleProposeReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.propose(w, r, func(world *state.World, c identity.Caller) (uint32, error) {
		return world.Governance.ProposeReward(
			r.Context(), c, req.Description, req.Receiver, a.config.Now(),
		)
	})
}

func (a *API) handleProposeFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.propose(w, r, func(world *state.World, c identity.Caller) (uint32, error) {
		return world.Governance.ProposeFunding(
			r.Context(), c, req.Description, req.Receiver, req.Amount, a.config.Now(),
		)
	})
}

// voteOrCancel runs fn for the calling principal and answers with the
// proposal afterwards
func (a *API) voteOrCancel(
	w http.ResponseWriter,
	r *http.Request,
	fn func(*state.World, identity.Caller, uint32) error,
) {
	principal, err := caller(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	id, err := proposalID(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	var resp ProposalResponse
	var opErr error
	err = a.config.Machine.Mutate(r.Context(), func(world *state.World) error {
		opErr = fn(world, world.Caller(principal), id)
		// a vote can be recorded even when its payload fails
		p, err := world.Governance.Proposal(id)
		if err != nil {
			return err
		}
		resp = newProposalResponse(p)
		return nil
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.voteOrCancel(w, r, func(world *state.World, c identity.Caller, id uint32) error {
		return world.Governance.CastVote(
			r.Context(), c, id, req.Approve, req.Data, a.config.Now(),
		)
	})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	a.voteOrCancel(w, r, func(world *state.World, c identity.Caller, id uint32) error {
		return world.Governance.Cancel(r.Context(), c, id)
	})
}

func (a *API) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	var resp ProposalResponse
	err = a.config.Machine.Read(r.Context(), func(world *state.World) error {
		p, err := world.Governance.Proposal(id)
		if err != nil {
			return err
		}
		resp = newProposalResponse(p)
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProposals(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := []ProposalResponse{}
	err = a.config.Machine.Read(r.Context(), func(world *state.World) error {
		for _, p := range world.Governance.Proposals(page) {
			resp = append(resp, newProposalResponse(p))
		}
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// emergency runs fn for the calling principal and answers with the
// emergency status
func (a *API) emergency(
	w http.ResponseWriter,
	r *http.Request,
	fn func(*state.World, identity.Caller) error,
) {
	principal, err := caller(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	var status governance.EmergencyStatus
	err = a.config.Machine.Mutate(r.Context(), func(world *state.World) error {
		if err := fn(world, world.Caller(principal)); err != nil {
			return err
		}
		status = world.Governance.EmergencyStatus()
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEmergencyStatusResponse(status))
}

func newEmergencyStatusResponse(s governance.EmergencyStatus) EmergencyStatusResponse {
	return EmergencyStatusResponse{
		Hash:          s.Hash,
		Size:          s.Size,
		Confirmations: s.Confirmations,
		Confirmed:     s.Confirmed,
		Supply:        s.Supply,
		Threshold:     s.Threshold,
	}
}

func (a *API) handleEmergencyRelease(w http.ResponseWriter, r *http.Request) {
	var req EmergencyReleaseRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.emergency(w, r, func(world *state.World, c identity.Caller) error {
		return world.Governance.SetEmergencyRelease(r.Context(), c, req.Binary)
	})
}

func (a *API) handleEmergencyConfirm(w http.ResponseWriter, r *http.Request) {
	var req EmergencyConfirmRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.emergency(w, r, func(world *state.World, c identity.Caller) error {
		return world.Governance.ConfirmEmergencyRelease(r.Context(), c, req.Digest)
	})
}

func (a *API) handleEmergencyForce(w http.ResponseWriter, r *http.Request) {
	a.emergency(w, r, func(world *state.World, c identity.Caller) error {
		return world.Governance.ForceEmergencyUpgrade(r.Context(), c, a.config.Now())
	})
}

func (a *API) handleEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	var status governance.EmergencyStatus
	err := a.config.Machine.Read(r.Context(), func(world *state.World) error {
		status = world.Governance.EmergencyStatus()
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEmergencyStatusResponse(status))
}

func (a *API) handleBackup(w http.ResponseWriter, r *http.Request) {
	if a.config.Backups == nil {
		writeError(w, http.StatusNotImplemented, "backups are not enabled")
		return
	}
	pass, err := a.config.Backups.BeginBackup(r.Context())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{
		Generation: pass.Generation,
		Extent:     pass.Extent,
		Pages:      pass.Pages,
		PageSize:   pass.PageSize,
	})
}

// handleBackupPage returns raw page bytes. Without a generation parameter
// the current head is used.
func (a *API) handleBackupPage(w http.ResponseWriter, r *http.Request) {
	if a.config.Backups == nil {
		writeError(w, http.StatusNotImplemented, "backups are not enabled")
		return
	}
	page, err := parseUint(r.PathValue("page"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page index")
		return
	}
	var generation uint64
	if param := r.URL.Query().Get("generation"); param != "" {
		if generation, err = parseUint(param, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid generation")
			return
		}
	}
	ctx := r.Context()
	var pass *persistence.BackupPass
	if generation == 0 {
		pass, err = a.config.Backups.BeginBackup(ctx)
	} else {
		pass, err = a.config.Backups.ResumeBackup(ctx, generation)
	}
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	data, err := pass.Page(ctx, page)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(backupGenerationHeader, strconv.FormatUint(pass.Generation, 10))
	w.Header().Set(backupPageHeader, strconv.FormatUint(page, 10))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck
	w.Write(data)
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	resp := []BalanceResponse{}
	err := a.config.Machine.Read(r.Context(), func(world *state.World) error {
		for _, b := range world.Ledger.OwnerBalances() {
			resp = append(resp, BalanceResponse{Owner: b.Owner, Balance: b.Balance})
		}
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	search := r.URL.Query().Get("search")
	resp := []TransactionResponse{}
	err = a.config.Machine.Read(r.Context(), func(world *state.World) error {
		for _, tx := range world.Ledger.TransactionsPage(page, ledger.TransactionPageSize, search) {
			resp = append(resp, newTransactionResponse(tx))
		}
		return nil
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal, err := caller(r)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	var req CreateUserRequest
	if !a.decode(w, r, &req) {
		return
	}
	var user identity.User
	err = a.config.Machine.Mutate(r.Context(), func(world *state.World) error {
		var err error
		user, err = world.Users.Create(principal, req.Name)
		return err
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Principal: user.Principal,
		Stalwart:  user.Stalwart,
	})
}
