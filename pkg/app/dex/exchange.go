package dex

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/storage"
	"github.com/uhyunpark/ledgerdex/pkg/token"
	"github.com/uhyunpark/ledgerdex/pkg/util"
)

// Config is the construction-time identity and fee policy
type Config struct {
	Address    common.Address // custody address on every token ledger
	FeeAccount common.Address
	FeePercent uint64
}

// TokenResolver finds the token ledger behind an asset id
type TokenResolver interface {
	Ledger(asset common.Address) (token.Ledger, error)
}

// Store persists exchange state. *storage.Store implements it.
type Store interface {
	Load() (*storage.Snapshot, error)
	Commit(cs *storage.ChangeSet) error
	Events(from uint64, limit int) ([]storage.EventRecord, error)
}

// Recorder observes operation outcomes (metrics)
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type Option func(*Exchange)

// WithClock sets the source of order and event timestamps
func WithClock(c util.Clock) Option { return func(e *Exchange) { e.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Exchange) { e.log = l } }

func WithRecorder(r Recorder) Option { return func(e *Exchange) { e.recorder = r } }

// Exchange is the custodial order-book core.
//
// Every mutating operation holds mu exclusively from validation through
// event delivery, so operations take effect in one total order and each one
// lands completely or not at all. Reads share mu.
type Exchange struct {
	mu sync.RWMutex

	address    common.Address
	feeAccount common.Address
	feePercent uint64

	ledger *ledger.Ledger
	book   *orderbook.Book
	seq    uint64 // last event sequence number

	tokens   TokenResolver
	store    Store
	clock    util.Clock
	log      *zap.SugaredLogger
	recorder Recorder

	subMu     sync.RWMutex
	subs      map[int]func(Event)
	nextSubID int
}

// New opens the exchange over store, restoring any persisted state.
// A store that already carries a fee policy must match cfg exactly.
func New(cfg Config, tokens TokenResolver, store Store, opts ...Option) (*Exchange, error) {
	e := &Exchange{
		address:    cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		ledger:     ledger.New(),
		book:       orderbook.New(),
		tokens:     tokens,
		store:      store,
		clock:      util.RealClock{},
		log:        zap.NewNop().Sugar(),
		subs:       make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}

	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange state: %w", err)
	}

	policy := e.policy()
	if snap.Policy == nil {
		if err := store.Commit(&storage.ChangeSet{Policy: policy}); err != nil {
			return nil, fmt.Errorf("failed to save fee policy: %w", err)
		}
	} else if *snap.Policy != *policy {
		return nil, fmt.Errorf("%w: stored %+v, configured %+v", ErrFeePolicyMismatch, *snap.Policy, *policy)
	}

	e.ledger.Restore(snap.Balances)
	e.book.Restore(snap.Orders, snap.Cancelled, snap.Filled, snap.OrderCount)
	e.seq = snap.LastEventSeq

	e.log.Infow("exchange_opened",
		"address", e.address.Hex(),
		"fee_account", e.feeAccount.Hex(),
		"fee_percent", e.feePercent,
		"orders", e.book.Count(),
		"balances", len(snap.Balances),
		"last_event", e.seq)

	return e, nil
}

func (e *Exchange) policy() *storage.FeePolicy {
	return &storage.FeePolicy{Exchange: e.address, FeeAccount: e.feeAccount, FeePercent: e.feePercent}
}

// Address is the exchange's custody identity
func (e *Exchange) Address() common.Address { return e.address }

func (e *Exchange) FeeAccount() common.Address { return e.feeAccount }

func (e *Exchange) FeePercent() uint64 { return e.feePercent }

// Fee is the taker fee for filling an order with the given amountGet:
// amountGet * feePercent / 100, truncated.
func (e *Exchange) Fee(amountGet *uint256.Int) (*uint256.Int, error) {
	fee, overflow := new(uint256.Int).MulOverflow(amountGet, uint256.NewInt(e.feePercent))
	if overflow {
		return nil, fmt.Errorf("%w: fee on %s at %d%%", ledger.ErrOverflow, amountGet.Dec(), e.feePercent)
	}
	return fee.Div(fee, uint256.NewInt(100)), nil
}

// Subscribe registers fn for every event emitted after this call.
// fn runs while the exchange is locked: it must not block or call back into the Exchange.
func (e *Exchange) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Exchange) publish(ev Event) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, fn := range e.subs {
		fn(ev)
	}
}

// commit assigns sequence numbers to events, persists them together with cs
// in one batch, and only then advances the in-memory sequence.
func (e *Exchange) commit(cs *storage.ChangeSet, events ...*Event) error {
	seq := e.seq
	for _, ev := range events {
		seq++
		ev.Seq = seq
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
		}
		cs.Events = append(cs.Events, storage.EventRecord{Seq: seq, Data: data})
	}
	if err := e.store.Commit(cs); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	e.seq = seq
	return nil
}

func (e *Exchange) now() int64 { return e.clock.Now().Unix() }

func (e *Exchange) observe(op string, start time.Time, err *error) {
	if e.recorder != nil {
		e.recorder.ObserveOperation(op, *err, time.Since(start))
	}
}
