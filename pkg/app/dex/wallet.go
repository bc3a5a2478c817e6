package dex

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// Approve sets how much of owner's asset wallet spender may pull. Approving
// the exchange address is what makes a later Deposit possible.
// Internal balances are not touched and no event is emitted.
func (e *Exchange) Approve(owner, asset, spender common.Address, amount *uint256.Int) (err error) {
	defer e.observe("approve", time.Now(), &err)

	if owner == e.address {
		return ErrCustodyAccount
	}
	tok, err := e.tokens.Ledger(asset)
	if err != nil {
		return err
	}
	if err := tok.Update(func(tx *token.Tx) error { return tx.Approve(owner, spender, amount) }, nil); err != nil {
		return err
	}

	e.log.Infow("wallet_approved", "token", asset.Hex(), "owner", owner.Hex(), "spender", spender.Hex(), "amount", amount.Dec())
	return nil
}

// Transfer moves amount of asset between two wallets on the token ledger.
// Custody only changes through Deposit and Withdraw, so the exchange
// address may be neither side.
func (e *Exchange) Transfer(from, asset, to common.Address, amount *uint256.Int) (err error) {
	defer e.observe("transfer", time.Now(), &err)

	if from == e.address || to == e.address {
		return ErrCustodyAccount
	}
	tok, err := e.tokens.Ledger(asset)
	if err != nil {
		return err
	}
	if err := tok.Update(func(tx *token.Tx) error { return tx.Transfer(from, to, amount) }, nil); err != nil {
		return err
	}

	e.log.Infow("wallet_transferred", "token", asset.Hex(), "from", from.Hex(), "to", to.Hex(), "amount", amount.Dec())
	return nil
}
