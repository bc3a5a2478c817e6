package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNonceTooLow rejects a replayed or out-of-order transaction
var ErrNonceTooLow = errors.New("nonce too low")

// NonceStore persists the last nonce used by each account
type NonceStore interface {
	LoadNonce(addr common.Address) (uint64, error)
	SaveNonce(addr common.Address, nonce uint64) error
}

// NonceTracker enforces strictly increasing nonces per account.
// Gaps are allowed; a nonce is spent once its signature has verified.
type NonceTracker struct {
	mu    sync.Mutex
	store NonceStore
	last  map[common.Address]uint64
}

func NewNonceTracker(store NonceStore) *NonceTracker {
	return &NonceTracker{store: store, last: make(map[common.Address]uint64)}
}

// Current returns the last nonce accepted for addr, 0 if none
func (n *NonceTracker) Current(addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLocked(addr)
}

func (n *NonceTracker) currentLocked(addr common.Address) (uint64, error) {
	if v, ok := n.last[addr]; ok {
		return v, nil
	}
	v, err := n.store.LoadNonce(addr)
	if err != nil {
		return 0, fmt.Errorf("failed to load nonce for %s: %w", addr.Hex(), err)
	}
	n.last[addr] = v
	return v, nil
}

// Consume accepts nonce for addr if it is above the last accepted one
func (n *NonceTracker) Consume(addr common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, err := n.currentLocked(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, account nonce %d", ErrNonceTooLow, nonce, last)
	}
	if err := n.store.SaveNonce(addr, nonce); err != nil {
		return fmt.Errorf("failed to save nonce for %s: %w", addr.Hex(), err)
	}
	n.last[addr] = nonce
	return nil
}
