package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// Store is the Pebble-backed persistence for the exchange.
// Thread-safe at the Pebble level; the exchange serializes its own commits.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store on an in-memory filesystem. Contents vanish on Close.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// FeePolicy is the immutable fee configuration recorded with the data
type FeePolicy struct {
	Exchange   common.Address `json:"exchange"`
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
}

// EventRecord is one entry of the event log, already encoded by the exchange
type EventRecord struct {
	Seq  uint64
	Data []byte
}

// Snapshot is everything needed to rebuild the exchange in memory
type Snapshot struct {
	Policy       *FeePolicy // nil for a fresh database
	Balances     []ledger.Entry
	Orders       []*orderbook.Order
	Cancelled    []uint64
	Filled       []uint64
	OrderCount   uint64
	LastEventSeq uint64
}

// ChangeSet is the persisted effect of one exchange operation.
// Commit writes it in a single batch so it lands entirely or not at all.
type ChangeSet struct {
	Policy     *FeePolicy
	Balances   []ledger.Entry
	Orders     []*orderbook.Order
	Cancelled  []uint64
	Filled     []uint64
	OrderCount uint64 // zero leaves the stored counter untouched
	Events     []EventRecord
	Tokens     []*token.State
}

// Commit writes the change set atomically
func (s *Store) Commit(cs *ChangeSet) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if cs.Policy != nil {
		data, err := json.Marshal(cs.Policy)
		if err != nil {
			return fmt.Errorf("failed to marshal fee policy: %w", err)
		}
		if err := batch.Set([]byte(keyFeePolicy), data, nil); err != nil {
			return err
		}
	}
	for _, e := range cs.Balances {
		if err := batch.Set(balanceKey(e.Asset, e.Owner), []byte(e.Amount.Dec()), nil); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Cancelled {
		if err := batch.Set(cancelledKey(id), nil, nil); err != nil {
			return err
		}
	}
	for _, id := range cs.Filled {
		if err := batch.Set(filledKey(id), nil, nil); err != nil {
			return err
		}
	}
	if cs.OrderCount != 0 {
		if err := batch.Set([]byte(keyOrderCount), encodeUint64(cs.OrderCount), nil); err != nil {
			return err
		}
	}
	for _, ev := range cs.Events {
		if err := batch.Set(eventKey(ev.Seq), ev.Data, nil); err != nil {
			return err
		}
	}
	for _, st := range cs.Tokens {
		data, err := encodeToken(st)
		if err != nil {
			return err
		}
		if err := batch.Set(tokenKey(st.Address), data, nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Load reads the full exchange state
func (s *Store) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	policy, err := s.loadFeePolicy()
	if err != nil {
		return nil, err
	}
	snap.Policy = policy

	if snap.OrderCount, err = s.loadUint64([]byte(keyOrderCount)); err != nil {
		return nil, err
	}

	err = s.scan(prefixBalance, func(key, value []byte) error {
		asset, owner, err := parseBalanceKey(key)
		if err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(string(value))
		if err != nil {
			return fmt.Errorf("invalid balance at %s: %w", key, err)
		}
		snap.Balances = append(snap.Balances, ledger.Entry{Key: ledger.Key{Asset: asset, Owner: owner}, Amount: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixOrder, func(key, value []byte) error {
		var o orderbook.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order at %s: %w", key, err)
		}
		snap.Orders = append(snap.Orders, &o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap.Cancelled, err = s.scanIDs(prefixCancelled); err != nil {
		return nil, err
	}
	if snap.Filled, err = s.scanIDs(prefixFilled); err != nil {
		return nil, err
	}
	if snap.LastEventSeq, err = s.lastSeq(prefixEvent); err != nil {
		return nil, err
	}

	return snap, nil
}

// Events returns up to limit event records with seq >= from, oldest first
func (s *Store) Events(from uint64, limit int) ([]EventRecord, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []EventRecord
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		seq, err := parseSeqKey(prefixEvent, iter.Key())
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(iter.Value()))
		copy(data, iter.Value())
		out = append(out, EventRecord{Seq: seq, Data: data})
	}
	return out, iter.Error()
}

func (s *Store) loadFeePolicy() (*FeePolicy, error) {
	data, closer, err := s.db.Get([]byte(keyFeePolicy))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fee policy: %w", err)
	}
	defer closer.Close()

	var p FeePolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fee policy: %w", err)
	}
	return &p, nil
}

// loadUint64 returns zero for a missing key
func (s *Store) loadUint64(key []byte) (uint64, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return decodeUint64(data)
}

// scan calls fn for every key under prefix in key order.
// Key and value are only valid during the call.
func (s *Store) scan(prefix string, fn func(key, value []byte) error) error {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) scanIDs(prefix string) ([]uint64, error) {
	var ids []uint64
	err := s.scan(prefix, func(key, _ []byte) error {
		id, err := parseSeqKey(prefix, key)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func (s *Store) lastSeq(prefix string) (uint64, error) {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseSeqKey(prefix, iter.Key())
}
