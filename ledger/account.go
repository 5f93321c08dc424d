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

package ledger

import "fmt"

// Account identifies a balance holder: the owning principal plus an
// optional sub-identifier.
type Account struct {
	Owner      string
	Subaccount string
}

var (
	// TreasuryAccount funds approved Fund proposals
	TreasuryAccount = Account{Owner: "treasury"}
	// MintingAccount is the source recorded for newly minted tokens
	MintingAccount = Account{Owner: "minting"}
)

// NewAccount returns the default account of a principal
func NewAccount(owner string) Account {
	return Account{Owner: owner}
}

func (a Account) String() string {
	if a.Subaccount == "" {
		return a.Owner
	}
	return fmt.Sprintf("%s.%s", a.Owner, a.Subaccount)
}

// Less orders accounts by owner, then subaccount
func (a Account) Less(b Account) bool {
	if a.Owner != b.Owner {
		return a.Owner < b.Owner
	}
	return a.Subaccount < b.Subaccount
}
