package p2p

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

const topicEvents = "ledgerdex/events/1"

// DropCounter is told about every event the gossip queue could not take
type DropCounter interface {
	EventDropped(sink string)
}

// RemoteEvent is an event received from another node
type RemoteEvent struct {
	From      peer.ID
	StateHash common.Hash
	Event     dex.Event
}

type GossipConfig struct {
	ListenAddr string // multiaddr, e.g. /ip4/0.0.0.0/tcp/4001
	Bootstrap  []string
	Exchange   common.Address // events for other exchanges are ignored
	QueueSize  int
	StateHash  func() common.Hash // optional, stamped on outgoing events
	Drops      DropCounter
	Logger     *zap.SugaredLogger
}

// Gossip publishes this node's exchange events on a GossipSub topic and
// hands events from peers to a handler. Remote events are informational:
// they never change local state.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger
	cfg   GossipConfig

	queue chan dex.Event

	muH     sync.RWMutex
	handler func(RemoteEvent)

	muPeers  sync.Mutex
	peerSeqs map[peer.ID]uint64 // highest seq seen per peer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	g := &Gossip{
		h:        h,
		ps:       ps,
		log:      cfg.Logger,
		cfg:      cfg,
		queue:    make(chan dex.Event, cfg.QueueSize),
		peerSeqs: make(map[peer.ID]uint64),
		cancel:   cancel,
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			g.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(topicEvents); err != nil {
		cancel()
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	g.wg.Add(2)
	go g.publishLoop(ctx)
	go g.receiveLoop(ctx)

	g.log.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", topicEvents)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including this node's peer id
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.String()+"/p2p/"+g.h.ID().String())
	}
	return out
}

// OnEvent sets the handler for events received from peers
func (g *Gossip) OnEvent(fn func(RemoteEvent)) { g.muH.Lock(); g.handler = fn; g.muH.Unlock() }

// PeerSeqs reports the highest event seq seen from each peer
func (g *Gossip) PeerSeqs() map[peer.ID]uint64 {
	g.muPeers.Lock()
	defer g.muPeers.Unlock()
	out := make(map[peer.ID]uint64, len(g.peerSeqs))
	for p, s := range g.peerSeqs {
		out[p] = s
	}
	return out
}

// Handle is an exchange subscriber. It never blocks.
func (g *Gossip) Handle(ev dex.Event) {
	select {
	case g.queue <- ev:
	default:
		if g.cfg.Drops != nil {
			g.cfg.Drops.EventDropped("gossip")
		}
		g.log.Warnw("gossip_queue_full", "seq", ev.Seq)
	}
}

func (g *Gossip) publishLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.queue:
			// the hash is read when publishing, so it may already include later events
			var hash common.Hash
			if g.cfg.StateHash != nil {
				hash = g.cfg.StateHash()
			}
			data, err := encodeEvent(g.cfg.Exchange, hash, ev)
			if err != nil {
				g.log.Errorw("gossip_encode_failed", "seq", ev.Seq, "err", err)
				continue
			}
			if err := g.topic.Publish(ctx, data); err != nil && ctx.Err() == nil {
				g.log.Warnw("gossip_publish_failed", "seq", ev.Seq, "err", err)
			}
		}
	}
}

// inbound

func (g *Gossip) receiveLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}

		w, ev, err := decodeEvent(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_bad_message", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if w.Exchange != g.cfg.Exchange {
			continue
		}

		from := msg.GetFrom()
		g.muPeers.Lock()
		if ev.Seq > g.peerSeqs[from] {
			g.peerSeqs[from] = ev.Seq
		}
		g.muPeers.Unlock()

		g.muH.RLock()
		handler := g.handler
		g.muH.RUnlock()
		if handler != nil {
			handler(RemoteEvent{From: from, StateHash: w.StateHash, Event: ev})
		}
	}
}

// Close stops both loops and the libp2p host
func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	g.wg.Wait()
	g.topic.Close()
	return g.h.Close()
}
