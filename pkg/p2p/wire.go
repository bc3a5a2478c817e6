package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

func init() {
	gob.Register(EventWire{})
}

// EventWire is one exchange event as gossiped between nodes
type EventWire struct {
	Exchange  common.Address // which exchange emitted it
	Seq       uint64
	StateHash common.Hash // emitter's state hash when it published
	Event     []byte      // JSON-encoded dex.Event
}

func encodeEvent(exchange common.Address, stateHash common.Hash, ev dex.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", ev.Seq, err)
	}
	return gobEncode(EventWire{Exchange: exchange, Seq: ev.Seq, StateHash: stateHash, Event: data})
}

func decodeEvent(b []byte) (EventWire, dex.Event, error) {
	var w EventWire
	if err := gobDecode(b, &w); err != nil {
		return w, dex.Event{}, err
	}
	var ev dex.Event
	if err := json.Unmarshal(w.Event, &ev); err != nil {
		return w, dex.Event{}, fmt.Errorf("unmarshal event %d: %w", w.Seq, err)
	}
	if ev.Seq != w.Seq {
		return w, dex.Event{}, fmt.Errorf("envelope seq %d carries event %d", w.Seq, ev.Seq)
	}
	return w, ev, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
