package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// LoadNonce returns the highest nonce used by addr, zero if none
func (s *Store) LoadNonce(addr common.Address) (uint64, error) {
	return s.loadUint64(nonceKey(addr))
}

// SaveNonce records the highest nonce used by addr
func (s *Store) SaveNonce(addr common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(addr), encodeUint64(nonce), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// tokenRecord is the JSON layout of a token ledger; amounts are decimal strings
type tokenRecord struct {
	Address     common.Address                               `json:"address"`
	Name        string                                       `json:"name"`
	Symbol      string                                       `json:"symbol"`
	Decimals    uint8                                        `json:"decimals"`
	TotalSupply string                                       `json:"totalSupply"`
	Balances    map[common.Address]string                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]string `json:"allowances"`
}

// SaveToken persists a token ledger
func (s *Store) SaveToken(st *token.State) error {
	data, err := encodeToken(st)
	if err != nil {
		return err
	}
	if err := s.db.Set(tokenKey(st.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func encodeToken(st *token.State) ([]byte, error) {
	rec := tokenRecord{
		Address:     st.Address,
		Name:        st.Name,
		Symbol:      st.Symbol,
		Decimals:    st.Decimals,
		TotalSupply: st.TotalSupply.Dec(),
		Balances:    make(map[common.Address]string, len(st.Balances)),
		Allowances:  make(map[common.Address]map[common.Address]string, len(st.Allowances)),
	}
	for owner, bal := range st.Balances {
		rec.Balances[owner] = bal.Dec()
	}
	for owner, spenders := range st.Allowances {
		m := make(map[common.Address]string, len(spenders))
		for spender, amt := range spenders {
			m[spender] = amt.Dec()
		}
		rec.Allowances[owner] = m
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	return data, nil
}

// LoadToken loads a token ledger
// Returns nil if the token was never saved
func (s *Store) LoadToken(addr common.Address) (*token.State, error) {
	data, closer, err := s.db.Get(tokenKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	defer closer.Close()

	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	st := &token.State{
		Address:    rec.Address,
		Name:       rec.Name,
		Symbol:     rec.Symbol,
		Decimals:   rec.Decimals,
		Balances:   make(map[common.Address]*uint256.Int, len(rec.Balances)),
		Allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(rec.Allowances)),
	}
	if st.TotalSupply, err = uint256.FromDecimal(rec.TotalSupply); err != nil {
		return nil, fmt.Errorf("invalid total supply: %w", err)
	}
	for owner, v := range rec.Balances {
		bal, err := uint256.FromDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid balance for %s: %w", owner.Hex(), err)
		}
		st.Balances[owner] = bal
	}
	for owner, spenders := range rec.Allowances {
		m := make(map[common.Address]*uint256.Int, len(spenders))
		for spender, v := range spenders {
			amt, err := uint256.FromDecimal(v)
			if err != nil {
				return nil, fmt.Errorf("invalid allowance for %s: %w", owner.Hex(), err)
			}
			m[spender] = amt
		}
		st.Allowances[owner] = m
	}
	return st, nil
}
