package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

var (
	exchangeA = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	maker     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	taker     = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

func fillEvent(seq uint64) dex.Event {
	return dex.Event{
		Seq:        seq,
		Type:       dex.EventOrderFilled,
		ID:         4,
		User:       taker,
		Creator:    maker,
		TokenGet:   common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		AmountGet:  uint256.NewInt(1000),
		TokenGive:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		AmountGive: uint256.NewInt(5),
		Timestamp:  1700000100,
	}
}

func TestEventWireRoundTrip(t *testing.T) {
	hash := common.HexToHash("0xabc1")
	data, err := encodeEvent(exchangeA, hash, fillEvent(9))
	require.NoError(t, err)

	w, ev, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, exchangeA, w.Exchange)
	assert.Equal(t, hash, w.StateHash)
	assert.Equal(t, uint64(9), ev.Seq)
	assert.Equal(t, maker, ev.Creator)
	assert.Equal(t, "1000", ev.AmountGet.Dec())
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, _, err := decodeEvent([]byte("not gob"))
	assert.Error(t, err)

	data, err := gobEncode(EventWire{Exchange: exchangeA, Seq: 2, Event: []byte(`{"seq":3,"type":"OrderCreated"}`)})
	require.NoError(t, err)
	_, _, err = decodeEvent(data)
	assert.ErrorContains(t, err, "envelope seq 2")
}

func TestGossipBetweenTwoNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := NewGossip(ctx, GossipConfig{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Exchange:   exchangeA,
		StateHash:  func() common.Hash { return common.HexToHash("0x01") },
	})
	require.NoError(t, err)
	defer a.Close()

	b, err := NewGossip(ctx, GossipConfig{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  a.Addrs()[:1],
		Exchange:   exchangeA,
	})
	require.NoError(t, err)
	defer b.Close()

	var (
		mu       sync.Mutex
		received []RemoteEvent
	)
	b.OnEvent(func(re RemoteEvent) {
		mu.Lock()
		received = append(received, re)
		mu.Unlock()
	})

	// the mesh takes a few heartbeats to form; keep publishing until b hears one
	seq := uint64(0)
	require.Eventually(t, func() bool {
		seq++
		a.Handle(fillEvent(seq))
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 20*time.Second, 200*time.Millisecond)

	mu.Lock()
	got := received[0]
	mu.Unlock()
	assert.Equal(t, a.Host().ID(), got.From)
	assert.Equal(t, common.HexToHash("0x01"), got.StateHash)
	assert.Equal(t, dex.EventOrderFilled, got.Event.Type)
	assert.NotZero(t, b.PeerSeqs()[a.Host().ID()])
}

func TestGossipIgnoresOtherExchanges(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Exchange: common.Address{0x1}})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Bootstrap: a.Addrs()[:1], Exchange: exchangeA})
	require.NoError(t, err)
	defer b.Close()

	var hits int
	var mu sync.Mutex
	b.OnEvent(func(RemoteEvent) { mu.Lock(); hits++; mu.Unlock() })

	for seq := uint64(1); seq <= 10; seq++ {
		a.Handle(fillEvent(seq))
		time.Sleep(100 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, hits)
}

type countDrops struct{ n int }

func (c *countDrops) EventDropped(string) { c.n++ }

func TestGossipHandleNeverBlocks(t *testing.T) {
	drops := &countDrops{}
	g := &Gossip{queue: make(chan dex.Event, 1), cfg: GossipConfig{Drops: drops}}
	g.log = zap.NewNop().Sugar()

	g.Handle(fillEvent(1))
	g.Handle(fillEvent(2))
	assert.Equal(t, 1, drops.n)
}
