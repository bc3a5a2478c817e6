package orderbook

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownOrder     = errors.New("orderbook: unknown order")
	ErrAlreadyFilled    = errors.New("orderbook: order already filled")
	ErrAlreadyCancelled = errors.New("orderbook: order already cancelled")
	ErrOutOfSequence    = errors.New("orderbook: order id out of sequence")
)

// Book is the id -> order table plus the cancelled and filled marker sets.
// Ids are assigned densely from 1 and never reused; an order is in at most
// one marker set and never leaves it.
// Not thread-safe: the exchange serializes every access.
type Book struct {
	orders    map[uint64]*Order
	cancelled map[uint64]struct{}
	filled    map[uint64]struct{}
	count     uint64
}

func New() *Book {
	return &Book{
		orders:    make(map[uint64]*Order),
		cancelled: make(map[uint64]struct{}),
		filled:    make(map[uint64]struct{}),
	}
}

// Count is the number of orders ever created, which is also the highest id
func (b *Book) Count() uint64 { return b.count }

// NextID is the id the next inserted order must carry
func (b *Book) NextID() uint64 { return b.count + 1 }

// Insert stores a new order. Its id must be NextID.
func (b *Book) Insert(o *Order) error {
	if o.ID != b.NextID() {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfSequence, o.ID, b.NextID())
	}
	b.orders[o.ID] = o.Clone()
	b.count = o.ID
	return nil
}

// Get returns a copy of the order
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (b *Book) Exists(id uint64) bool {
	_, ok := b.orders[id]
	return ok
}

func (b *Book) IsCancelled(id uint64) bool {
	_, ok := b.cancelled[id]
	return ok
}

func (b *Book) IsFilled(id uint64) bool {
	_, ok := b.filled[id]
	return ok
}

// Status reports the lifecycle state; unknown ids report open with ok=false
func (b *Book) Status(id uint64) (Status, bool) {
	if !b.Exists(id) {
		return StatusOpen, false
	}
	switch {
	case b.IsFilled(id):
		return StatusFilled, true
	case b.IsCancelled(id):
		return StatusCancelled, true
	default:
		return StatusOpen, true
	}
}

// checkOpen is the shared precondition of both terminal transitions
func (b *Book) checkOpen(id uint64) error {
	if !b.Exists(id) {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	if b.IsFilled(id) {
		return fmt.Errorf("%w: %d", ErrAlreadyFilled, id)
	}
	if b.IsCancelled(id) {
		return fmt.Errorf("%w: %d", ErrAlreadyCancelled, id)
	}
	return nil
}

// MarkCancelled moves an open order to cancelled
func (b *Book) MarkCancelled(id uint64) error {
	if err := b.checkOpen(id); err != nil {
		return err
	}
	b.cancelled[id] = struct{}{}
	return nil
}

// MarkFilled moves an open order to filled
func (b *Book) MarkFilled(id uint64) error {
	if err := b.checkOpen(id); err != nil {
		return err
	}
	b.filled[id] = struct{}{}
	return nil
}

// Filter selects orders for List
type Filter func(o *Order, status Status) bool

// List returns copies of matching orders in id order. A nil filter matches all.
func (b *Book) List(filter Filter) []*Order {
	ids := make([]uint64, 0, len(b.orders))
	for id := range b.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*Order
	for _, id := range ids {
		o := b.orders[id]
		status, _ := b.Status(id)
		if filter == nil || filter(o, status) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Restore rebuilds the book from persisted state. count wins over the
// highest stored id so that ids are never reused.
func (b *Book) Restore(orders []*Order, cancelled, filled []uint64, count uint64) {
	for _, o := range orders {
		b.orders[o.ID] = o.Clone()
		if o.ID > count {
			count = o.ID
		}
	}
	for _, id := range cancelled {
		b.cancelled[id] = struct{}{}
	}
	for _, id := range filled {
		b.filled[id] = struct{}{}
	}
	b.count = count
}
