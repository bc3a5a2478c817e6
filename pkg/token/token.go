package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidRecipient      = errors.New("token: transfer to the zero address")
	ErrUnknownToken          = errors.New("token: unknown token")
)

// Ledger is the slice of a fungible token the exchange depends on.
// The exchange pulls deposits with Tx.TransferFrom (after the owner approved it)
// and pays out withdrawals with Tx.Transfer from its own custody address,
// persisting the resulting token state in the same batch as its own.
type Ledger interface {
	Update(fn func(*Tx) error, commit CommitFunc) error
	BalanceOf(owner common.Address) *uint256.Int
}

// CommitFunc persists the state a Tx produced. Returning an error discards the Tx.
type CommitFunc func(st *State) error

// Store persists token state so balances survive a restart
type Store interface {
	SaveToken(st *State) error
	LoadToken(addr common.Address) (*State, error)
}

// State is a full copy of a token's ledger
type State struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
	Balances    map[common.Address]*uint256.Int
	Allowances  map[common.Address]map[common.Address]*uint256.Int // owner -> spender -> amount
}

// Token is an in-process ERC-20 style ledger.
// Thread-safe: every method takes the token's own mutex.
type Token struct {
	mu          sync.RWMutex
	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	store       Store // nil keeps the token in memory only
}

// New creates a token and mints the whole supply to deployer
func New(address common.Address, name, symbol string, decimals uint8, supply *uint256.Int, deployer common.Address) *Token {
	t := &Token{
		address:     address,
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: supply.Clone(),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
	t.balances[deployer] = supply.Clone()
	return t
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

// BalanceOf returns a copy of owner's balance (zero when unknown)
func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceLocked(owner).Clone()
}

// Allowance returns how much spender may still pull from owner
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowanceLocked(owner, spender).Clone()
}

// Approve sets spender's allowance over owner's balance, replacing any previous value
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return t.Update(func(tx *Tx) error { return tx.Approve(owner, spender, amount) }, nil)
}

// Transfer moves amount from from to to
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.Update(func(tx *Tx) error { return tx.Transfer(from, to, amount) }, nil)
}

// TransferFrom moves amount from from to to on behalf of spender, consuming allowance.
// An allowance of MaxUint256 is treated as unlimited and never decreases.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	return t.Update(func(tx *Tx) error { return tx.TransferFrom(spender, from, to, amount) }, nil)
}

// Update applies fn to the token under its lock and then hands the new state
// to commit. A nil commit saves through the token's own store, if any.
// If fn or commit fails the token is put back exactly as it was.
func (t *Token) Update(fn func(*Tx) error, commit CommitFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.snapshotLocked()
	if err := fn(&Tx{t: t}); err != nil {
		t.restoreLocked(before)
		return err
	}
	if commit == nil {
		commit = t.saveLocked
	}
	if err := commit(t.snapshotLocked()); err != nil {
		t.restoreLocked(before)
		return err
	}
	return nil
}

// Tx is a token mutation in progress. It is only valid inside Update.
type Tx struct {
	t *Token
}

func (tx *Tx) Approve(owner, spender common.Address, amount *uint256.Int) error {
	tx.t.setAllowanceLocked(owner, spender, amount.Clone())
	return nil
}

func (tx *Tx) Transfer(from, to common.Address, amount *uint256.Int) error {
	return tx.t.moveLocked(from, to, amount)
}

func (tx *Tx) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t := tx.t
	allowance := t.allowanceLocked(from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: spender %s allowed %s, need %s", ErrInsufficientAllowance, spender.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(maxUint256) {
		t.setAllowanceLocked(from, spender, new(uint256.Int).Sub(allowance, amount))
	}
	return nil
}

func (tx *Tx) BalanceOf(owner common.Address) *uint256.Int {
	return tx.t.balanceLocked(owner).Clone()
}

var maxUint256 = new(uint256.Int).SetAllOne()

func (t *Token) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	fromBal := t.balanceLocked(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	// Total supply is bounded by uint256, so the credit cannot overflow.
	t.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) balanceLocked(owner common.Address) *uint256.Int {
	if bal, ok := t.balances[owner]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (t *Token) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

func (t *Token) setAllowanceLocked(owner, spender common.Address, amount *uint256.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = amount
}

// Snapshot returns a deep copy of the token state
func (t *Token) Snapshot() *State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Token) snapshotLocked() *State {
	st := &State{
		Address:     t.address,
		Name:        t.name,
		Symbol:      t.symbol,
		Decimals:    t.decimals,
		TotalSupply: t.totalSupply.Clone(),
		Balances:    make(map[common.Address]*uint256.Int, len(t.balances)),
		Allowances:  make(map[common.Address]map[common.Address]*uint256.Int, len(t.allowances)),
	}
	for owner, bal := range t.balances {
		st.Balances[owner] = bal.Clone()
	}
	for owner, spenders := range t.allowances {
		m := make(map[common.Address]*uint256.Int, len(spenders))
		for spender, amt := range spenders {
			m[spender] = amt.Clone()
		}
		st.Allowances[owner] = m
	}
	return st
}

// restore replaces balances and allowances with a persisted state
func (t *Token) restore(st *State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restoreLocked(st)
}

func (t *Token) restoreLocked(st *State) {
	if st.TotalSupply != nil {
		t.totalSupply = st.TotalSupply.Clone()
	}
	t.balances = make(map[common.Address]*uint256.Int, len(st.Balances))
	for owner, bal := range st.Balances {
		t.balances[owner] = bal.Clone()
	}
	t.allowances = make(map[common.Address]map[common.Address]*uint256.Int, len(st.Allowances))
	for owner, spenders := range st.Allowances {
		for spender, amt := range spenders {
			t.setAllowanceLocked(owner, spender, amt.Clone())
		}
	}
}

func (t *Token) saveLocked(st *State) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.SaveToken(st); err != nil {
		return fmt.Errorf("failed to save token %s: %w", t.symbol, err)
	}
	return nil
}
