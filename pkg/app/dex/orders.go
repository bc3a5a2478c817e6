package dex

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
)

// MakeOrder records caller's offer to give amountGive of tokenGive for
// amountGet of tokenGet. The balance check happens now but nothing is
// reserved: the maker's tokenGive is only debited when the order is filled.
func (e *Exchange) MakeOrder(caller, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (_ *orderbook.Order, err error) {
	defer e.observe("make_order", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.BalanceOf(tokenGive, caller).Lt(amountGive) {
		return nil, ErrInsufficientBalance
	}

	o := &orderbook.Order{
		ID:         e.book.NextID(),
		Creator:    caller,
		TokenGet:   tokenGet,
		AmountGet:  amountGet.Clone(),
		TokenGive:  tokenGive,
		AmountGive: amountGive.Clone(),
		Timestamp:  e.now(),
	}
	ev := orderEvent(EventOrderCreated, o, caller, o.Timestamp)

	if err := e.commit(&storage.ChangeSet{Orders: []*orderbook.Order{o}, OrderCount: o.ID}, &ev); err != nil {
		return nil, err
	}
	if err := e.book.Insert(o); err != nil {
		return nil, err
	}

	e.log.Infow("order_created",
		"id", o.ID,
		"user", caller.Hex(),
		"token_get", tokenGet.Hex(), "amount_get", amountGet.Dec(),
		"token_give", tokenGive.Hex(), "amount_give", amountGive.Dec())
	e.publish(ev)
	return o.Clone(), nil
}

// CancelOrder marks caller's own open order cancelled
func (e *Exchange) CancelOrder(caller common.Address, id uint64) (err error) {
	defer e.observe("cancel_order", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(id)
	if !ok {
		return ErrOrderNotFound
	}
	if o.Creator != caller {
		return ErrNotOwner
	}
	if e.book.IsCancelled(id) {
		return ErrOrderCancelled
	}
	if e.book.IsFilled(id) {
		return ErrOrderFilled
	}

	ev := orderEvent(EventOrderCancelled, o, caller, e.now())
	if err := e.commit(&storage.ChangeSet{Cancelled: []uint64{id}}, &ev); err != nil {
		return err
	}
	if err := e.book.MarkCancelled(id); err != nil {
		return err
	}

	e.log.Infow("order_cancelled", "id", id, "user", caller.Hex())
	e.publish(ev)
	return nil
}

// FillOrder settles order id against caller as taker.
//
// The taker pays amountGet plus the fee in tokenGet; the maker receives
// amountGet and the fee account the fee. The maker then pays amountGive of
// tokenGive to the taker. Any short balance fails the whole fill.
// The order's creator cannot fill it (ErrSelfFill).
func (e *Exchange) FillOrder(caller common.Address, id uint64) (err error) {
	defer e.observe("fill_order", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(id)
	if !ok {
		return errFillOrderNotFound
	}
	if e.book.IsFilled(id) {
		return ErrOrderFilled
	}
	if e.book.IsCancelled(id) {
		return ErrOrderCancelled
	}
	if o.Creator == caller {
		return ErrSelfFill
	}

	fee, err := e.Fee(o.AmountGet)
	if err != nil {
		return err
	}
	takerPays, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return fmt.Errorf("%w: fill %d: amountGet plus fee", ledger.ErrOverflow, id)
	}

	j := e.ledger.Begin()
	if err := j.Debit(o.TokenGet, caller, takerPays); err != nil {
		return err
	}
	if err := j.Credit(o.TokenGet, o.Creator, o.AmountGet); err != nil {
		return err
	}
	if err := j.Credit(o.TokenGet, e.feeAccount, fee); err != nil {
		return err
	}
	if err := j.Debit(o.TokenGive, o.Creator, o.AmountGive); err != nil {
		return err
	}
	if err := j.Credit(o.TokenGive, caller, o.AmountGive); err != nil {
		return err
	}

	ev := orderEvent(EventOrderFilled, o, caller, e.now())
	ev.Creator = o.Creator

	if err := e.commit(&storage.ChangeSet{Balances: j.Changes(), Filled: []uint64{id}}, &ev); err != nil {
		return err
	}
	j.Commit()
	if err := e.book.MarkFilled(id); err != nil {
		return err
	}

	e.log.Infow("order_filled",
		"id", id,
		"taker", caller.Hex(),
		"maker", o.Creator.Hex(),
		"fee", fee.Dec(),
		"token_get", o.TokenGet.Hex())
	e.publish(ev)
	return nil
}

func orderEvent(typ EventType, o *orderbook.Order, user common.Address, ts int64) Event {
	return Event{
		Type:       typ,
		ID:         o.ID,
		User:       user,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet.Clone(),
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive.Clone(),
		Timestamp:  ts,
	}
}

// OrderCount is the number of orders ever created; ids run 1..OrderCount
func (e *Exchange) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Count()
}

func (e *Exchange) IsOrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.IsCancelled(id)
}

func (e *Exchange) IsOrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.IsFilled(id)
}

// Order returns a copy of order id and its status
func (e *Exchange) Order(id uint64) (*orderbook.Order, orderbook.Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.book.Get(id)
	if !ok {
		return nil, orderbook.StatusOpen, false
	}
	status, _ := e.book.Status(id)
	return o, status, true
}

// OrderView pairs an order with its status for listings
type OrderView struct {
	Order  *orderbook.Order
	Status orderbook.Status
}

// Orders lists orders in id order, optionally restricted to one creator
// and/or one status
func (e *Exchange) Orders(creator *common.Address, status *orderbook.Status) []OrderView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := e.book.List(func(o *orderbook.Order, s orderbook.Status) bool {
		if creator != nil && o.Creator != *creator {
			return false
		}
		return status == nil || s == *status
	})
	out := make([]OrderView, 0, len(matched))
	for _, o := range matched {
		s, _ := e.book.Status(o.ID)
		out = append(out, OrderView{Order: o, Status: s})
	}
	return out
}
