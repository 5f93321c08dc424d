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

import "time"

// View is the read side of the ledger used for voting weight
type View interface {
	BalanceOf(Account) uint64
	TotalSupply() uint64
}

// Ledger is the ledger collaborator consumed by governance. Balances are
// only ever changed through Transfer and Mint.
type Ledger interface {
	View
	Transfer(from, to Account, amount uint64, memo string, now time.Time) error
	Mint(to Account, amount uint64, memo string, now time.Time) error
}
