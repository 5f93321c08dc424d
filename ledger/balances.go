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

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransactionPageSize is the number of log entries returned per page
const TransactionPageSize = 30

// Transaction is an entry in the append-only ledger log
type Transaction struct {
	Timestamp time.Time
	From      Account
	To        Account
	Amount    uint64
	Fee       uint64
	Memo      string
}

// IndexedTransaction pairs a log entry with its position in the log
type IndexedTransaction struct {
	Index       int
	Transaction Transaction
}

// BalanceEntry is a single account balance
type BalanceEntry struct {
	Account Account
	Balance uint64
}

// OwnerBalance is the sum of all balances held by one principal
type OwnerBalance struct {
	Owner   string
	Balance uint64
}

// Balances is the in-memory token ledger. It is not safe for concurrent
// use; the owning state machine serializes access.
type Balances struct {
	balances map[Account]uint64
	log      []Transaction
	supply   uint64
	metrics  *ledgerMetrics
}

func New() *Balances {
	return &Balances{
		balances: make(map[Account]uint64),
	}
}

// FromEntries rebuilds a ledger from persisted balances and log
func FromEntries(
	entries []BalanceEntry,
	log []Transaction,
) (*Balances, error) {
	b := New()
	if err := b.Load(entries, log); err != nil {
		return nil, err
	}
	return b, nil
}

// Load replaces the ledger contents in place. On error the ledger is
// left unchanged.
func (b *Balances) Load(entries []BalanceEntry, log []Transaction) error {
	balances := make(map[Account]uint64, len(entries))
	var supply uint64
	for _, entry := range entries {
		if entry.Balance == 0 {
			continue
		}
		if _, ok := balances[entry.Account]; ok {
			return fmt.Errorf("duplicate account %s", entry.Account)
		}
		if supply > math.MaxUint64-entry.Balance {
			return ErrSupplyOverflow
		}
		balances[entry.Account] = entry.Balance
		supply += entry.Balance
	}
	b.balances = balances
	b.supply = supply
	b.log = slices.Clone(log)
	if b.metrics != nil {
		b.metrics.update(b)
	}
	return nil
}

// EnableMetrics registers the ledger gauges with the given registry
func (b *Balances) EnableMetrics(promRegistry prometheus.Registerer) {
	if promRegistry == nil {
		return
	}
	b.metrics = &ledgerMetrics{}
	b.metrics.init(promRegistry)
	b.metrics.update(b)
}

func (b *Balances) BalanceOf(account Account) uint64 {
	return b.balances[account]
}

func (b *Balances) TotalSupply() uint64 {
	return b.supply
}

// Transfer moves tokens between accounts and appends a log entry
func (b *Balances) Transfer(
	from, to Account,
	amount uint64,
	memo string,
	now time.Time,
) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	fromBalance := b.balances[from]
	if fromBalance < amount {
		return fmt.Errorf(
			"%w: %s holds %d, needs %d",
			ErrInsufficientFunds,
			from,
			fromBalance,
			amount,
		)
	}
	b.debit(from, amount)
	b.balances[to] += amount
	b.append(Transaction{
		Timestamp: now.Round(0).UTC(),
		From:      from,
		To:        to,
		Amount:    amount,
		Memo:      memo,
	})
	return nil
}

// Mint creates new tokens in the given account
func (b *Balances) Mint(
	to Account,
	amount uint64,
	memo string,
	now time.Time,
) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if b.supply > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	b.balances[to] += amount
	b.supply += amount
	b.append(Transaction{
		Timestamp: now.Round(0).UTC(),
		From:      MintingAccount,
		To:        to,
		Amount:    amount,
		Memo:      memo,
	})
	return nil
}

func (b *Balances) debit(account Account, amount uint64) {
	remaining := b.balances[account] - amount
	if remaining == 0 {
		delete(b.balances, account)
		return
	}
	b.balances[account] = remaining
}

func (b *Balances) append(tx Transaction) {
	b.log = append(b.log, tx)
	if b.metrics != nil {
		b.metrics.update(b)
	}
}

// Entries returns all non-zero balances ordered by account
func (b *Balances) Entries() []BalanceEntry {
	ret := make([]BalanceEntry, 0, len(b.balances))
	for account, balance := range b.balances {
		ret = append(ret, BalanceEntry{Account: account, Balance: balance})
	}
	slices.SortFunc(ret, func(x, y BalanceEntry) int {
		switch {
		case x.Account.Less(y.Account):
			return -1
		case y.Account.Less(x.Account):
			return 1
		}
		return 0
	})
	return ret
}

// Transactions returns a copy of the full ledger log
func (b *Balances) Transactions() []Transaction {
	return slices.Clone(b.log)
}

// Transaction returns the log entry at the given index
func (b *Balances) Transaction(index int) (Transaction, bool) {
	if index < 0 || index >= len(b.log) {
		return Transaction{}, false
	}
	return b.log[index], true
}

// TransactionsPage returns a page of the log, newest first. A non-empty
// search term keeps only entries whose sender or receiver owner contains it.
func (b *Balances) TransactionsPage(
	page int,
	pageSize int,
	search string,
) []IndexedTransaction {
	if page < 0 || pageSize <= 0 {
		return nil
	}
	ret := []IndexedTransaction{}
	if page > len(b.log)/pageSize {
		return ret
	}
	skip := page * pageSize
	for i := len(b.log) - 1; i >= 0 && len(ret) < pageSize; i-- {
		tx := b.log[i]
		if search != "" &&
			!strings.Contains(tx.To.Owner+tx.From.Owner, search) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		ret = append(ret, IndexedTransaction{Index: i, Transaction: tx})
	}
	return ret
}

// OwnerBalances aggregates balances by owning principal
func (b *Balances) OwnerBalances() []OwnerBalance {
	totals := make(map[string]uint64)
	for account, balance := range b.balances {
		totals[account.Owner] += balance
	}
	ret := make([]OwnerBalance, 0, len(totals))
	for owner, balance := range totals {
		ret = append(ret, OwnerBalance{Owner: owner, Balance: balance})
	}
	slices.SortFunc(ret, func(x, y OwnerBalance) int {
		return strings.Compare(x.Owner, y.Owner)
	})
	return ret
}
