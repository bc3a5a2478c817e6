package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeDeposit     TxType = "deposit"
	TxTypeWithdraw    TxType = "withdraw"
	TxTypeMakeOrder   TxType = "make_order"
	TxTypeCancelOrder TxType = "cancel_order"
	TxTypeFillOrder   TxType = "fill_order"
	TxTypeApprove     TxType = "approve"
	TxTypeTransfer    TxType = "transfer"
)

// SignedTransaction is one exchange operation signed by its account with EIP-712.
// Exactly one payload matches Type.
type SignedTransaction struct {
	Type        TxType            `json:"type"`
	Deposit     *BalancePayload   `json:"deposit,omitempty"`
	Withdraw    *BalancePayload   `json:"withdraw,omitempty"`
	MakeOrder   *MakeOrderPayload `json:"makeOrder,omitempty"`
	CancelOrder *OrderIDPayload   `json:"cancelOrder,omitempty"`
	FillOrder   *OrderIDPayload   `json:"fillOrder,omitempty"`
	Approve     *ApprovePayload   `json:"approve,omitempty"`
	Transfer    *TransferPayload  `json:"transfer,omitempty"`
	Signature   string            `json:"signature"` // 0x-prefixed 65-byte hex
}

// BalancePayload is a deposit or withdrawal. Amount and Nonce are decimal strings.
type BalancePayload struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	Nonce   string `json:"nonce"`
}

type MakeOrderPayload struct {
	Account    string `json:"account"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Nonce      string `json:"nonce"`
}

// OrderIDPayload is a cancel or a fill of an existing order
type OrderIDPayload struct {
	Account string `json:"account"`
	OrderID string `json:"orderId"`
	Nonce   string `json:"nonce"`
}

// ApprovePayload lets Spender pull up to Amount of Token from the account's wallet
type ApprovePayload struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Nonce   string `json:"nonce"`
}

// TransferPayload sends Amount of Token from the account's wallet to To
type TransferPayload struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Nonce   string `json:"nonce"`
}

// Action is a decoded transaction with typed fields
type Action struct {
	Type    TxType
	Account common.Address
	Nonce   uint64

	Token  common.Address // deposit, withdraw, approve, transfer
	Amount *uint256.Int

	Spender common.Address // approve
	To      common.Address // transfer

	TokenGet   common.Address // make_order
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int

	OrderID uint64 // cancel_order, fill_order
}

// Message is the EIP-712 message the account signs for this action
func (a *Action) Message() crypto.TypedMessage {
	switch a.Type {
	case TxTypeDeposit:
		return crypto.DepositMessage(a.Account, a.Token, a.Amount, a.Nonce)
	case TxTypeWithdraw:
		return crypto.WithdrawMessage(a.Account, a.Token, a.Amount, a.Nonce)
	case TxTypeMakeOrder:
		return crypto.MakeOrderMessage(a.Account, a.TokenGet, a.AmountGet, a.TokenGive, a.AmountGive, a.Nonce)
	case TxTypeCancelOrder:
		return crypto.CancelOrderMessage(a.Account, a.OrderID, a.Nonce)
	case TxTypeApprove:
		return crypto.ApproveMessage(a.Account, a.Token, a.Spender, a.Amount, a.Nonce)
	case TxTypeTransfer:
		return crypto.TransferMessage(a.Account, a.Token, a.To, a.Amount, a.Nonce)
	default:
		return crypto.FillOrderMessage(a.Account, a.OrderID, a.Nonce)
	}
}

// Decode parses the payload strings into an Action
func (tx *SignedTransaction) Decode() (*Action, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	var (
		p   fieldParser
		act = &Action{Type: tx.Type}
	)
	switch tx.Type {
	case TxTypeDeposit, TxTypeWithdraw:
		b := tx.Deposit
		if tx.Type == TxTypeWithdraw {
			b = tx.Withdraw
		}
		act.Account = p.address("account", b.Account)
		act.Token = p.address("token", b.Token)
		act.Amount = p.amount("amount", b.Amount)
		act.Nonce = p.uint("nonce", b.Nonce)

	case TxTypeMakeOrder:
		m := tx.MakeOrder
		act.Account = p.address("account", m.Account)
		act.TokenGet = p.address("tokenGet", m.TokenGet)
		act.AmountGet = p.amount("amountGet", m.AmountGet)
		act.TokenGive = p.address("tokenGive", m.TokenGive)
		act.AmountGive = p.amount("amountGive", m.AmountGive)
		act.Nonce = p.uint("nonce", m.Nonce)

	case TxTypeCancelOrder, TxTypeFillOrder:
		o := tx.CancelOrder
		if tx.Type == TxTypeFillOrder {
			o = tx.FillOrder
		}
		act.Account = p.address("account", o.Account)
		act.OrderID = p.uint("orderId", o.OrderID)
		act.Nonce = p.uint("nonce", o.Nonce)

	case TxTypeApprove:
		a := tx.Approve
		act.Account = p.address("account", a.Account)
		act.Token = p.address("token", a.Token)
		act.Spender = p.address("spender", a.Spender)
		act.Amount = p.amount("amount", a.Amount)
		act.Nonce = p.uint("nonce", a.Nonce)

	case TxTypeTransfer:
		x := tx.Transfer
		act.Account = p.address("account", x.Account)
		act.Token = p.address("token", x.Token)
		act.To = p.address("to", x.To)
		act.Amount = p.amount("amount", x.Amount)
		act.Nonce = p.uint("nonce", x.Nonce)
	}

	if p.err != nil {
		return nil, p.err
	}
	return act, nil
}

// fieldParser keeps the first parse error so Decode reads straight through
type fieldParser struct {
	err error
}

func (p *fieldParser) address(field, s string) common.Address {
	if p.err == nil && !common.IsHexAddress(s) {
		p.err = fmt.Errorf("invalid %s: %q", field, s)
	}
	return common.HexToAddress(s)
}

func (p *fieldParser) amount(field, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("invalid %s %q: %w", field, s, err)
		}
		return new(uint256.Int)
	}
	return v
}

func (p *fieldParser) uint(field, s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate checks the envelope: a known type, its payload, and a signature
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}

	var present bool
	switch tx.Type {
	case TxTypeDeposit:
		present = tx.Deposit != nil
	case TxTypeWithdraw:
		present = tx.Withdraw != nil
	case TxTypeMakeOrder:
		present = tx.MakeOrder != nil
	case TxTypeCancelOrder:
		present = tx.CancelOrder != nil
	case TxTypeFillOrder:
		present = tx.FillOrder != nil
	case TxTypeApprove:
		present = tx.Approve != nil
	case TxTypeTransfer:
		present = tx.Transfer != nil
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if !present {
		return fmt.Errorf("%s transaction requires %s payload", tx.Type, tx.Type)
	}
	return nil
}

// ParseTransaction deserializes and validates a signed transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return tx, nil
}

// New builds the unsigned envelope for act; Sign fills in the signature
func New(act *Action) *SignedTransaction {
	tx := &SignedTransaction{Type: act.Type}
	nonce := strconv.FormatUint(act.Nonce, 10)
	switch act.Type {
	case TxTypeDeposit, TxTypeWithdraw:
		b := &BalancePayload{
			Account: act.Account.Hex(),
			Token:   act.Token.Hex(),
			Amount:  act.Amount.Dec(),
			Nonce:   nonce,
		}
		if act.Type == TxTypeDeposit {
			tx.Deposit = b
		} else {
			tx.Withdraw = b
		}
	case TxTypeMakeOrder:
		tx.MakeOrder = &MakeOrderPayload{
			Account:    act.Account.Hex(),
			TokenGet:   act.TokenGet.Hex(),
			AmountGet:  act.AmountGet.Dec(),
			TokenGive:  act.TokenGive.Hex(),
			AmountGive: act.AmountGive.Dec(),
			Nonce:      nonce,
		}
	case TxTypeCancelOrder, TxTypeFillOrder:
		o := &OrderIDPayload{
			Account: act.Account.Hex(),
			OrderID: strconv.FormatUint(act.OrderID, 10),
			Nonce:   nonce,
		}
		if act.Type == TxTypeCancelOrder {
			tx.CancelOrder = o
		} else {
			tx.FillOrder = o
		}
	case TxTypeApprove:
		tx.Approve = &ApprovePayload{
			Account: act.Account.Hex(),
			Token:   act.Token.Hex(),
			Spender: act.Spender.Hex(),
			Amount:  act.Amount.Dec(),
			Nonce:   nonce,
		}
	case TxTypeTransfer:
		tx.Transfer = &TransferPayload{
			Account: act.Account.Hex(),
			Token:   act.Token.Hex(),
			To:      act.To.Hex(),
			Amount:  act.Amount.Dec(),
			Nonce:   nonce,
		}
	}
	return tx
}

// Sign builds and signs the transaction for act
func Sign(eip712 *crypto.EIP712Signer, signer *crypto.Signer, act *Action) (*SignedTransaction, error) {
	sig, err := eip712.Sign(signer, act.Message())
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", act.Type, err)
	}
	tx := New(act)
	tx.Signature = fmt.Sprintf("0x%x", sig)
	return tx, nil
}

// Example format:
//   {
//     "type": "fill_order",
//     "fillOrder": {
//       "account": "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
//       "orderId": "1",
//       "nonce": "3"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
