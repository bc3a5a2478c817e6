package dex

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// Deposit pulls amount of asset from caller's wallet into custody and credits
// caller's internal balance. The caller must have approved the exchange
// address on the token first; token ledger errors are returned unchanged.
// The token movement, the credit and the event are persisted in one batch.
func (e *Exchange) Deposit(caller, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("deposit", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	tok, err := e.tokens.Ledger(asset)
	if err != nil {
		return err
	}

	j := e.ledger.Begin()
	if err := j.Credit(asset, caller, amount); err != nil {
		return err
	}

	ev := Event{
		Type:      EventTokensDeposited,
		Token:     asset,
		User:      caller,
		Amount:    amount.Clone(),
		Balance:   j.Balance(asset, caller),
		Timestamp: e.now(),
	}
	err = tok.Update(
		func(tx *token.Tx) error { return tx.TransferFrom(e.address, caller, e.address, amount) },
		func(st *token.State) error {
			return e.commit(&storage.ChangeSet{Balances: j.Changes(), Tokens: []*token.State{st}}, &ev)
		},
	)
	if err != nil {
		return err
	}
	j.Commit()

	e.log.Infow("tokens_deposited", "token", asset.Hex(), "user", caller.Hex(), "amount", amount.Dec(), "balance", ev.Balance.Dec())
	e.publish(ev)
	return nil
}

// Withdraw debits caller's internal balance and pays amount of asset back to
// caller's wallet. Like Deposit, both sides land in a single batch.
func (e *Exchange) Withdraw(caller, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("withdraw", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.BalanceOf(asset, caller).Lt(amount) {
		return ErrInsufficientBalance
	}

	tok, err := e.tokens.Ledger(asset)
	if err != nil {
		return err
	}

	j := e.ledger.Begin()
	if err := j.Debit(asset, caller, amount); err != nil {
		return err
	}

	ev := Event{
		Type:      EventTokensWithdrawn,
		Token:     asset,
		User:      caller,
		Amount:    amount.Clone(),
		Balance:   j.Balance(asset, caller),
		Timestamp: e.now(),
	}
	err = tok.Update(
		func(tx *token.Tx) error { return tx.Transfer(e.address, caller, amount) },
		func(st *token.State) error {
			return e.commit(&storage.ChangeSet{Balances: j.Changes(), Tokens: []*token.State{st}}, &ev)
		},
	)
	if err != nil {
		return err
	}
	j.Commit()

	e.log.Infow("tokens_withdrawn", "token", asset.Hex(), "user", caller.Hex(), "amount", amount.Dec(), "balance", ev.Balance.Dec())
	e.publish(ev)
	return nil
}

// TotalBalanceOf returns owner's internal balance of asset, zero if never touched
func (e *Exchange) TotalBalanceOf(asset, owner common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(asset, owner)
}

// Balances lists every internal balance, sorted by asset then owner
func (e *Exchange) Balances() []ledger.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Entries()
}

// CheckCustody verifies that, for every asset with internal balances, the
// sum of those balances is covered by what the exchange holds on the token ledger.
func (e *Exchange) CheckCustody() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[common.Address]bool)
	for _, entry := range e.ledger.Entries() {
		if seen[entry.Asset] {
			continue
		}
		seen[entry.Asset] = true

		tok, err := e.tokens.Ledger(entry.Asset)
		if err != nil {
			return err
		}
		owed := e.ledger.Total(entry.Asset)
		held := tok.BalanceOf(e.address)
		if held.Lt(owed) {
			return fmt.Errorf("custody shortfall on %s: owe %s, hold %s", entry.Asset.Hex(), owed.Dec(), held.Dec())
		}
	}
	return nil
}
