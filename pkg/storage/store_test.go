package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/ledger"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	dapp  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	mdai  = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(asset, owner common.Address, v uint64) ledger.Entry {
	return ledger.Entry{Key: ledger.Key{Asset: asset, Owner: owner}, Amount: uint256.NewInt(v)}
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, snap.Policy)
	assert.Empty(t, snap.Balances)
	assert.Empty(t, snap.Orders)
	assert.Zero(t, snap.OrderCount)
	assert.Zero(t, snap.LastEventSeq)
}

func TestCommitAndLoad(t *testing.T) {
	s := newTestStore(t)

	order := &orderbook.Order{
		ID: 1, Creator: alice,
		TokenGet: mdai, AmountGet: uint256.NewInt(1),
		TokenGive: dapp, AmountGive: uint256.NewInt(2),
		Timestamp: 1_700_000_000,
	}
	policy := &FeePolicy{Exchange: common.HexToAddress("0xEE"), FeeAccount: bob, FeePercent: 10}

	require.NoError(t, s.Commit(&ChangeSet{
		Policy:   policy,
		Balances: []ledger.Entry{entry(dapp, alice, 100), entry(mdai, bob, 0)},
	}))
	require.NoError(t, s.Commit(&ChangeSet{
		Orders:     []*orderbook.Order{order},
		OrderCount: 1,
		Events:     []EventRecord{{Seq: 1, Data: []byte(`{"type":"OrderCreated"}`)}},
	}))
	require.NoError(t, s.Commit(&ChangeSet{
		Balances:  []ledger.Entry{entry(dapp, alice, 60)},
		Cancelled: []uint64{1},
		Events:    []EventRecord{{Seq: 2, Data: []byte(`{"type":"OrderCancelled"}`)}},
	}))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, policy, snap.Policy)
	assert.Equal(t, uint64(1), snap.OrderCount)
	assert.Equal(t, uint64(2), snap.LastEventSeq)
	assert.Equal(t, []uint64{1}, snap.Cancelled)
	assert.Empty(t, snap.Filled)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, order, snap.Orders[0])

	require.Len(t, snap.Balances, 2)
	byKey := map[ledger.Key]*uint256.Int{}
	for _, e := range snap.Balances {
		byKey[e.Key] = e.Amount
	}
	assert.Equal(t, uint256.NewInt(60), byKey[ledger.Key{Asset: dapp, Owner: alice}])
	assert.True(t, byKey[ledger.Key{Asset: mdai, Owner: bob}].IsZero(), "zero balances are kept")
}

func TestOrdersComeBackInIDOrder(t *testing.T) {
	s := newTestStore(t)
	var orders []*orderbook.Order
	for _, id := range []uint64{10, 2, 1, 100} {
		orders = append(orders, &orderbook.Order{ID: id, AmountGet: uint256.NewInt(id), AmountGive: uint256.NewInt(id)})
	}
	require.NoError(t, s.Commit(&ChangeSet{Orders: orders, Filled: []uint64{100, 2}}))

	snap, err := s.Load()
	require.NoError(t, err)
	var ids []uint64
	for _, o := range snap.Orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []uint64{1, 2, 10, 100}, ids)
	assert.Equal(t, []uint64{2, 100}, snap.Filled)
}

func TestEventsPaging(t *testing.T) {
	s := newTestStore(t)
	var recs []EventRecord
	for seq := uint64(1); seq <= 5; seq++ {
		recs = append(recs, EventRecord{Seq: seq, Data: []byte{byte('a' + seq)}})
	}
	require.NoError(t, s.Commit(&ChangeSet{Events: recs}))

	page, err := s.Events(2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Seq)
	assert.Equal(t, uint64(3), page[1].Seq)

	all, err := s.Events(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.Events(6, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNonces(t *testing.T) {
	s := newTestStore(t)
	n, err := s.LoadNonce(alice)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.SaveNonce(alice, 42))
	n, err = s.LoadNonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tok := token.New(dapp, "Dapp University", "DAPP", 18, token.Ether("1000000"), alice)
	require.NoError(t, tok.Transfer(alice, bob, token.Ether("100")))
	require.NoError(t, tok.Approve(bob, alice, token.Ether("7")))

	missing, err := s.LoadToken(dapp)
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := tok.Snapshot()
	require.NoError(t, s.SaveToken(want))
	got, err := s.LoadToken(dapp)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCommitWritesTokensWithBalances(t *testing.T) {
	s := newTestStore(t)
	tok := token.New(dapp, "Dapp University", "DAPP", 18, token.Ether("1000000"), alice)
	require.NoError(t, tok.Transfer(alice, bob, token.Ether("3")))

	require.NoError(t, s.Commit(&ChangeSet{
		Balances: []ledger.Entry{entry(dapp, bob, 3)},
		Tokens:   []*token.State{tok.Snapshot()},
		Events:   []EventRecord{{Seq: 1, Data: []byte(`{}`)}},
	}))

	got, err := s.LoadToken(dapp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, token.Ether("3"), got.Balances[bob])

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{entry(dapp, bob, 3)}, snap.Balances)
	assert.Equal(t, uint64(1), snap.LastEventSeq)
}

func TestReopenFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchange.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Commit(&ChangeSet{Balances: []ledger.Entry{entry(dapp, alice, 5)}, OrderCount: 3}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.OrderCount)
	require.Len(t, snap.Balances, 1)
	assert.Equal(t, uint256.NewInt(5), snap.Balances[0].Amount)
}

func TestKeyHelpers(t *testing.T) {
	asset, owner, err := parseBalanceKey(balanceKey(dapp, alice))
	require.NoError(t, err)
	assert.Equal(t, dapp, asset)
	assert.Equal(t, alice, owner)

	_, _, err = parseBalanceKey([]byte("bal:nope"))
	assert.Error(t, err)

	assert.Equal(t, "ord:00000000000000000042", string(orderKey(42)))
	id, err := parseSeqKey(prefixOrder, orderKey(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	assert.Equal(t, []byte("evt;"), keyUpperBound([]byte("evt:")))
}
