package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings in base units; *Display fields are the same
// amount scaled by the token's decimals, when the token is known.

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo is the exchange identity, fee policy and progress
type ExchangeInfo struct {
	Address      string `json:"address"`
	FeeAccount   string `json:"feeAccount"`
	FeePercent   uint64 `json:"feePercent"`
	OrderCount   uint64 `json:"orderCount"`
	LastEventSeq uint64 `json:"lastEventSeq"`
	StateHash    string `json:"stateHash"`
	PendingTxs   int    `json:"pendingTxs"`
}

// TokenInfo describes a registered token ledger
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

// BalanceInfo is an internal (deposited) balance
type BalanceInfo struct {
	Token          string `json:"token"`
	Owner          string `json:"owner"`
	Symbol         string `json:"symbol,omitempty"`
	Balance        string `json:"balance"`
	BalanceDisplay string `json:"balanceDisplay,omitempty"`
}

// WalletInfo is an external token-ledger balance and the allowance granted to the exchange
type WalletInfo struct {
	Token            string `json:"token"`
	Owner            string `json:"owner"`
	Symbol           string `json:"symbol"`
	Balance          string `json:"balance"`
	BalanceDisplay   string `json:"balanceDisplay"`
	Allowance        string `json:"allowance"`
	AllowanceDisplay string `json:"allowanceDisplay"`
}

// OrderInfo is an order together with its lifecycle status
type OrderInfo struct {
	ID                uint64 `json:"id"`
	Creator           string `json:"creator"`
	TokenGet          string `json:"tokenGet"`
	AmountGet         string `json:"amountGet"`
	AmountGetDisplay  string `json:"amountGetDisplay,omitempty"`
	TokenGive         string `json:"tokenGive"`
	AmountGive        string `json:"amountGive"`
	AmountGiveDisplay string `json:"amountGiveDisplay,omitempty"`
	Timestamp         int64  `json:"timestamp"` // unix seconds
	Status            string `json:"status"`    // "open" | "filled" | "cancelled"
	Cancelled         bool   `json:"cancelled"`
	Filled            bool   `json:"filled"`
}

type NonceInfo struct {
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"` // last accepted; sign the next tx with a higher one
}

// TxResponse is returned for an applied signed transaction
type TxResponse struct {
	Status  string `json:"status"` // "applied"
	Type    string `json:"type"`
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
	OrderID uint64 `json:"orderId,omitempty"`
}

// ErrorResponse is returned for all errors. Message carries the exchange's
// rejection reason verbatim when there is one.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`              // "event", "subscribed", "unsubscribed", "error"
	Channel string      `json:"channel,omitempty"` // the channel an event was delivered on
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "account:0x...", "order:12"]
}

// ==============================
// Conversions
// ==============================

func (s *Server) tokenInfo(t *token.Token) TokenInfo {
	return TokenInfo{
		Address:     t.Address().Hex(),
		Name:        t.Name(),
		Symbol:      t.Symbol(),
		Decimals:    t.Decimals(),
		TotalSupply: t.TotalSupply().Dec(),
	}
}

// display formats amount with asset's decimals, or "" for an unregistered asset
func (s *Server) display(asset common.Address, amount *uint256.Int) string {
	t, ok := s.tokens.Token(asset)
	if !ok {
		return ""
	}
	return token.FormatUnits(amount, t.Decimals())
}

func (s *Server) orderInfo(o *orderbook.Order, status orderbook.Status) OrderInfo {
	return OrderInfo{
		ID:                o.ID,
		Creator:           o.Creator.Hex(),
		TokenGet:          o.TokenGet.Hex(),
		AmountGet:         o.AmountGet.Dec(),
		AmountGetDisplay:  s.display(o.TokenGet, o.AmountGet),
		TokenGive:         o.TokenGive.Hex(),
		AmountGive:        o.AmountGive.Dec(),
		AmountGiveDisplay: s.display(o.TokenGive, o.AmountGive),
		Timestamp:         o.Timestamp,
		Status:            status.String(),
		Cancelled:         status == orderbook.StatusCancelled,
		Filled:            status == orderbook.StatusFilled,
	}
}

func (s *Server) orderInfos(views []dex.OrderView) []OrderInfo {
	out := make([]OrderInfo, len(views))
	for i, v := range views {
		out[i] = s.orderInfo(v.Order, v.Status)
	}
	return out
}
