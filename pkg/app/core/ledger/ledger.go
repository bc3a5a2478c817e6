package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrOverflow          = errors.New("ledger: amount overflow")
)

// Key identifies one balance: an asset held by an owner
type Key struct {
	Asset common.Address
	Owner common.Address
}

func (k Key) String() string { return k.Asset.Hex() + "/" + k.Owner.Hex() }

// Entry is a balance as persisted and listed
type Entry struct {
	Key
	Amount *uint256.Int
}

// Ledger is the internal balance table of the exchange.
// Not thread-safe: the exchange serializes every access.
//
// Balances only change through a Journal, so a multi-leg operation either
// lands all of its debits and credits or none of them.
type Ledger struct {
	balances map[Key]*uint256.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[Key]*uint256.Int)}
}

// BalanceOf returns a copy of the balance, zero for pairs never touched
func (l *Ledger) BalanceOf(asset, owner common.Address) *uint256.Int {
	return l.get(Key{Asset: asset, Owner: owner}).Clone()
}

func (l *Ledger) get(k Key) *uint256.Int {
	if bal, ok := l.balances[k]; ok {
		return bal
	}
	return new(uint256.Int)
}

// Total sums every owner's balance of asset
func (l *Ledger) Total(asset common.Address) *uint256.Int {
	sum := new(uint256.Int)
	for k, bal := range l.balances {
		if k.Asset == asset {
			sum.Add(sum, bal)
		}
	}
	return sum
}

// Entries lists every balance ever touched, sorted by asset then owner
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, bal := range l.balances {
		out = append(out, Entry{Key: k, Amount: bal.Clone()})
	}
	sortEntries(out)
	return out
}

// Restore loads persisted balances, replacing existing ones for the same keys
func (l *Ledger) Restore(entries []Entry) {
	for _, e := range entries {
		l.balances[e.Key] = e.Amount.Clone()
	}
}

// Begin starts a journal of staged changes against the current balances
func (l *Ledger) Begin() *Journal {
	return &Journal{ledger: l, staged: make(map[Key]*uint256.Int)}
}

// Journal stages debits and credits. Every check runs against the staged
// view, so a debit following a credit to the same balance sees the credit.
// Nothing reaches the ledger until Commit.
type Journal struct {
	ledger *Ledger
	staged map[Key]*uint256.Int
	order  []Key
}

// Balance returns the staged balance
func (j *Journal) Balance(asset, owner common.Address) *uint256.Int {
	return j.get(Key{Asset: asset, Owner: owner}).Clone()
}

func (j *Journal) get(k Key) *uint256.Int {
	if bal, ok := j.staged[k]; ok {
		return bal
	}
	return j.ledger.get(k)
}

func (j *Journal) set(k Key, amount *uint256.Int) {
	if _, ok := j.staged[k]; !ok {
		j.order = append(j.order, k)
	}
	j.staged[k] = amount
}

// Credit adds amount to owner's balance of asset
func (j *Journal) Credit(asset, owner common.Address, amount *uint256.Int) error {
	k := Key{Asset: asset, Owner: owner}
	next, overflow := new(uint256.Int).AddOverflow(j.get(k), amount)
	if overflow {
		return fmt.Errorf("%w: credit %s to %s", ErrOverflow, amount.Dec(), k)
	}
	j.set(k, next)
	return nil
}

// Debit removes amount from owner's balance of asset, failing when the staged balance is short
func (j *Journal) Debit(asset, owner common.Address, amount *uint256.Int) error {
	k := Key{Asset: asset, Owner: owner}
	have := j.get(k)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s have %s, need %s", ErrInsufficientFunds, k, have.Dec(), amount.Dec())
	}
	j.set(k, new(uint256.Int).Sub(have, amount))
	return nil
}

// Changes returns the staged balances in the order they were first touched
func (j *Journal) Changes() []Entry {
	out := make([]Entry, 0, len(j.order))
	for _, k := range j.order {
		out = append(out, Entry{Key: k, Amount: j.staged[k].Clone()})
	}
	return out
}

// Commit writes the staged balances into the ledger
func (j *Journal) Commit() {
	for _, k := range j.order {
		j.ledger.balances[k] = j.staged[k]
	}
	j.staged = make(map[Key]*uint256.Int)
	j.order = nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(a, b int) bool {
		if c := bytes.Compare(entries[a].Asset[:], entries[b].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(entries[a].Owner[:], entries[b].Owner[:]) < 0
	})
}
