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
	"net/http"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/state"
)

var errUnauthenticated = errors.New("missing " + PrincipalHeader + " header")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, governance.ErrProposalNotFound),
		errors.Is(err, identity.ErrUnknownUser),
		errors.Is(err, governance.ErrSnapshotUnavailable):
		return http.StatusNotFound
	case errors.Is(err, governance.ErrProposalClosed),
		errors.Is(err, governance.ErrUpgradePending),
		errors.Is(err, identity.ErrUserExists),
		errors.Is(err, identity.ErrPrincipalInUse):
		return http.StatusConflict
	case errors.Is(err, governance.ErrInsufficientStake),
		errors.Is(err, governance.ErrNoVotingPower),
		errors.Is(err, governance.ErrNotProposer),
		errors.Is(err, governance.ErrNotStalwart):
		return http.StatusForbidden
	case errors.Is(err, governance.ErrInvalidPayload),
		errors.Is(err, governance.ErrDigestMismatch),
		errors.Is(err, identity.ErrInvalidUsername),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, governance.ErrQuorumNotReached),
		errors.Is(err, governance.ErrSupermajorityNotReached),
		errors.Is(err, governance.ErrInsufficientTreasury):
		return http.StatusPreconditionFailed
	case errors.Is(err, state.ErrNotRunning),
		errors.Is(err, state.ErrMachineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error(
			"request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}
	a.logger.Debug(
		"request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, status, err.Error())
}
