package token

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves asset ids (token addresses) to their ledgers
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
	store  Store
}

// NewRegistry creates an empty registry. A nil store keeps tokens in memory.
func NewRegistry(store Store) *Registry {
	return &Registry{
		tokens: make(map[common.Address]*Token),
		store:  store,
	}
}

// Register adds a token. If the store already holds state for the token's
// address, that state replaces the freshly minted balances.
func (r *Registry) Register(t *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.address]; exists {
		return fmt.Errorf("token %s already registered", t.address.Hex())
	}

	if r.store != nil {
		st, err := r.store.LoadToken(t.address)
		if err != nil {
			return fmt.Errorf("failed to load token %s: %w", t.symbol, err)
		}
		if st != nil {
			t.restore(st)
		} else if err := r.store.SaveToken(t.Snapshot()); err != nil {
			return fmt.Errorf("failed to save token %s: %w", t.symbol, err)
		}
		t.mu.Lock()
		t.store = r.store
		t.mu.Unlock()
	}

	r.tokens[t.address] = t
	return nil
}

// Ledger returns the ledger for asset or ErrUnknownToken
func (r *Registry) Ledger(asset common.Address) (Ledger, error) {
	t, ok := r.Token(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return t, nil
}

func (r *Registry) Token(asset common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[asset]
	return t, ok
}

// BySymbol does a linear scan; registries hold a handful of tokens
func (r *Registry) BySymbol(symbol string) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if t.symbol == symbol {
			return t, true
		}
	}
	return nil, false
}

// List returns all tokens sorted by address
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address[:], out[j].address[:]) < 0
	})
	return out
}
