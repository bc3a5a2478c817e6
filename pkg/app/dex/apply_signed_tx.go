package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/mempool"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
)

// Receipt describes an applied signed transaction
type Receipt struct {
	Type    transaction.TxType
	Account common.Address
	Nonce   uint64
	OrderID uint64 // the new order for make_order, the target for cancel/fill
}

// TxProcessor authenticates signed transactions and applies them to an Exchange
type TxProcessor struct {
	ex       *Exchange
	verifier *transaction.Verifier
	nonces   *transaction.NonceTracker
	pool     *mempool.Mempool
	log      *zap.SugaredLogger
}

func NewTxProcessor(ex *Exchange, verifier *transaction.Verifier, nonces *transaction.NonceTracker, log *zap.SugaredLogger) *TxProcessor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TxProcessor{
		ex:       ex,
		verifier: verifier,
		nonces:   nonces,
		pool:     mempool.NewMempool(),
		log:      log,
	}
}

func (p *TxProcessor) Verifier() *transaction.Verifier { return p.verifier }

// Nonce returns the last nonce accepted for account
func (p *TxProcessor) Nonce(account common.Address) (uint64, error) {
	return p.nonces.Current(account)
}

// Apply parses, verifies and executes one signed transaction.
// The nonce is spent once the signature verifies, even if the exchange
// then rejects the operation.
func (p *TxProcessor) Apply(raw []byte) (*Receipt, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return nil, err
	}
	act, err := p.verifier.Verify(tx)
	if err != nil {
		return nil, err
	}
	if err := p.nonces.Consume(act.Account, act.Nonce); err != nil {
		return nil, err
	}

	rcpt := &Receipt{Type: act.Type, Account: act.Account, Nonce: act.Nonce, OrderID: act.OrderID}
	switch act.Type {
	case transaction.TxTypeDeposit:
		err = p.ex.Deposit(act.Account, act.Token, act.Amount)
	case transaction.TxTypeWithdraw:
		err = p.ex.Withdraw(act.Account, act.Token, act.Amount)
	case transaction.TxTypeMakeOrder:
		o, merr := p.ex.MakeOrder(act.Account, act.TokenGet, act.AmountGet, act.TokenGive, act.AmountGive)
		if merr == nil {
			rcpt.OrderID = o.ID
		}
		err = merr
	case transaction.TxTypeCancelOrder:
		err = p.ex.CancelOrder(act.Account, act.OrderID)
	case transaction.TxTypeFillOrder:
		err = p.ex.FillOrder(act.Account, act.OrderID)
	case transaction.TxTypeApprove:
		err = p.ex.Approve(act.Account, act.Token, act.Spender, act.Amount)
	case transaction.TxTypeTransfer:
		err = p.ex.Transfer(act.Account, act.Token, act.To, act.Amount)
	default:
		err = fmt.Errorf("unsupported transaction type: %s", act.Type)
	}
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// Submit queues raw for the next Flush
func (p *TxProcessor) Submit(raw []byte) {
	p.pool.PushRaw(raw)
}

// Pending is the number of queued transactions
func (p *TxProcessor) Pending() int { return p.pool.Len() }

// Flush applies every queued transaction in mempool order and returns how
// many succeeded
func (p *TxProcessor) Flush() int {
	applied := 0
	for _, raw := range p.pool.Drain(0) {
		rcpt, err := p.Apply(raw)
		if err != nil {
			p.log.Debugw("tx_rejected", "err", err)
			continue
		}
		applied++
		p.log.Debugw("tx_applied", "type", rcpt.Type, "account", rcpt.Account.Hex(), "nonce", rcpt.Nonce, "order_id", rcpt.OrderID)
	}
	return applied
}
