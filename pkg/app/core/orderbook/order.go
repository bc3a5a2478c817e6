package orderbook

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order is a maker's offer: give AmountGive of TokenGive in exchange for
// AmountGet of TokenGet. Never mutated once stored; its lifecycle lives in
// the book's marker sets.
type Order struct {
	ID         uint64
	Creator    common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Timestamp  int64 // unix seconds at creation
}

// Status represents the lifecycle state of an order
type Status int8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String
func ParseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return StatusOpen, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", s)
	}
}

// Clone returns a deep copy
func (o *Order) Clone() *Order {
	c := *o
	c.AmountGet = o.AmountGet.Clone()
	c.AmountGive = o.AmountGive.Clone()
	return &c
}

// orderJSON carries amounts as decimal strings so 256-bit values survive JSON clients
type orderJSON struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  string         `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive string         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:         o.ID,
		Creator:    o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet.Dec(),
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive.Dec(),
		Timestamp:  o.Timestamp,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amountGet, err := uint256.FromDecimal(raw.AmountGet)
	if err != nil {
		return fmt.Errorf("invalid amountGet %q: %w", raw.AmountGet, err)
	}
	amountGive, err := uint256.FromDecimal(raw.AmountGive)
	if err != nil {
		return fmt.Errorf("invalid amountGive %q: %w", raw.AmountGive, err)
	}
	*o = Order{
		ID:         raw.ID,
		Creator:    raw.Creator,
		TokenGet:   raw.TokenGet,
		AmountGet:  amountGet,
		TokenGive:  raw.TokenGive,
		AmountGive: amountGive,
		Timestamp:  raw.Timestamp,
	}
	return nil
}
