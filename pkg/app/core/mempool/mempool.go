package mempool

import (
	"encoding/json"
	"sync"
)

// Class buckets pending transactions for draining
type Class int

const (
	ClassBalance Class = iota // deposit, withdraw, approve, transfer
	ClassCancel
	ClassOrder // make_order, fill_order and anything unrecognised
)

// ClassifyRaw reads the type field of a signed transaction envelope.
// Bytes that are not a JSON envelope land in ClassOrder; the processor
// rejects them when it parses them in full.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassOrder
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return ClassOrder
	}

	switch txEnvelope.Type {
	case "deposit", "withdraw", "approve", "transfer":
		return ClassBalance
	case "cancel_order":
		return ClassCancel
	default:
		return ClassOrder
	}
}

// Mempool holds submitted transactions until the processor drains them.
// Drain order is balance operations, then cancels, then makes and fills,
// FIFO within each bucket: funds land before the orders that need them, and
// a cancel beats a fill submitted in the same window.
type Mempool struct {
	mu      sync.Mutex
	balance [][]byte
	cancel  [][]byte
	orders  [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a copy of b
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case ClassBalance:
		m.balance = append(m.balance, cp)
	case ClassCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// Drain removes and returns up to maxBytes worth of transactions in bucket
// order. maxBytes <= 0 drains everything.
func (m *Mempool) Drain(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for !full && len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.balance)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns the number of pending transactions
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.balance) + len(m.cancel) + len(m.orders)
}
