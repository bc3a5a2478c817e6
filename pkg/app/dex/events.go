package dex

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names an exchange event
type EventType string

const (
	EventTokensDeposited EventType = "TokensDeposited"
	EventTokensWithdrawn EventType = "TokensWithdrawn"
	EventOrderCreated    EventType = "OrderCreated"
	EventOrderCancelled  EventType = "OrderCancelled"
	EventOrderFilled     EventType = "OrderFilled"
)

// Event is emitted once per successful operation, in commit order.
//
// Balance events fill Token, User, Amount and Balance (the new internal
// balance). Order events fill ID, User, the four order legs and Timestamp;
// OrderFilled additionally carries the maker in Creator while User is the taker.
type Event struct {
	Seq  uint64 // position in the event log, starting at 1
	Type EventType

	ID   uint64
	User common.Address

	Token   common.Address
	Amount  *uint256.Int
	Balance *uint256.Int

	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Creator    common.Address

	Timestamp int64
}

// Accounts lists every identity an event concerns
func (ev *Event) Accounts() []common.Address {
	if ev.Type == EventOrderFilled && ev.Creator != ev.User {
		return []common.Address{ev.User, ev.Creator}
	}
	return []common.Address{ev.User}
}

// IsOrderEvent reports whether the event refers to an order id
func (ev *Event) IsOrderEvent() bool {
	switch ev.Type {
	case EventOrderCreated, EventOrderCancelled, EventOrderFilled:
		return true
	}
	return false
}

type eventJSON struct {
	Seq        uint64          `json:"seq"`
	Type       EventType       `json:"type"`
	ID         uint64          `json:"id,omitempty"`
	User       common.Address  `json:"user"`
	Token      *common.Address `json:"token,omitempty"`
	Amount     string          `json:"amount,omitempty"`
	Balance    string          `json:"balance,omitempty"`
	TokenGet   *common.Address `json:"tokenGet,omitempty"`
	AmountGet  string          `json:"amountGet,omitempty"`
	TokenGive  *common.Address `json:"tokenGive,omitempty"`
	AmountGive string          `json:"amountGive,omitempty"`
	Creator    *common.Address `json:"creator,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

func (ev Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Seq:       ev.Seq,
		Type:      ev.Type,
		ID:        ev.ID,
		User:      ev.User,
		Timestamp: ev.Timestamp,
	}
	switch ev.Type {
	case EventTokensDeposited, EventTokensWithdrawn:
		out.Token = &ev.Token
		out.Amount = decString(ev.Amount)
		out.Balance = decString(ev.Balance)
	default:
		out.TokenGet = &ev.TokenGet
		out.AmountGet = decString(ev.AmountGet)
		out.TokenGive = &ev.TokenGive
		out.AmountGive = decString(ev.AmountGive)
		if ev.Type == EventOrderFilled {
			out.Creator = &ev.Creator
		}
	}
	return json.Marshal(out)
}

func (ev *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Event{
		Seq:       raw.Seq,
		Type:      raw.Type,
		ID:        raw.ID,
		User:      raw.User,
		Timestamp: raw.Timestamp,
	}
	var err error
	if out.Amount, err = parseDec("amount", raw.Amount); err != nil {
		return err
	}
	if out.Balance, err = parseDec("balance", raw.Balance); err != nil {
		return err
	}
	if out.AmountGet, err = parseDec("amountGet", raw.AmountGet); err != nil {
		return err
	}
	if out.AmountGive, err = parseDec("amountGive", raw.AmountGive); err != nil {
		return err
	}
	if raw.Token != nil {
		out.Token = *raw.Token
	}
	if raw.TokenGet != nil {
		out.TokenGet = *raw.TokenGet
	}
	if raw.TokenGive != nil {
		out.TokenGive = *raw.TokenGive
	}
	if raw.Creator != nil {
		out.Creator = *raw.Creator
	}
	*ev = out
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func parseDec(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}

// Events reads up to limit events from the persisted log, starting at seq from
func (e *Exchange) Events(from uint64, limit int) ([]Event, error) {
	records, err := e.store.Events(from, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(records))
	for _, rec := range records {
		var ev Event
		if err := json.Unmarshal(rec.Data, &ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", rec.Seq, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// LastEventSeq is the sequence number of the most recent event, 0 if none
func (e *Exchange) LastEventSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}
