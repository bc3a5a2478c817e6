package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain separates signatures for one exchange on one chain from every other
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the exchange address
}

// DefaultDomain is the LedgerDex domain for exchange on chainID
func DefaultDomain(chainID int64, exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "LedgerDex",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: exchange,
	}
}

// Primary types, one per exchange operation. Approve and Transfer act on
// the signer's token wallet rather than its exchange balance.
const (
	TypeDeposit     = "Deposit"
	TypeWithdraw    = "Withdraw"
	TypeMakeOrder   = "MakeOrder"
	TypeCancelOrder = "CancelOrder"
	TypeFillOrder   = "FillOrder"
	TypeApprove     = "Approve"
	TypeTransfer    = "Transfer"
)

var typedDataTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	TypeDeposit: {
		{Name: "account", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeWithdraw: {
		{Name: "account", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeMakeOrder: {
		{Name: "account", Type: "address"},
		{Name: "tokenGet", Type: "address"},
		{Name: "amountGet", Type: "uint256"},
		{Name: "tokenGive", Type: "address"},
		{Name: "amountGive", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeCancelOrder: {
		{Name: "account", Type: "address"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeFillOrder: {
		{Name: "account", Type: "address"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeApprove: {
		{Name: "account", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	TypeTransfer: {
		{Name: "account", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

// TypedMessage is one exchange operation in EIP-712 message form
type TypedMessage struct {
	PrimaryType string
	Account     common.Address // the address expected to sign
	Message     apitypes.TypedDataMessage
}

// DepositMessage builds the message an account signs to deposit amount of token
func DepositMessage(account, token common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return balanceMessage(TypeDeposit, account, token, amount, nonce)
}

// WithdrawMessage builds the message an account signs to withdraw amount of token
func WithdrawMessage(account, token common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return balanceMessage(TypeWithdraw, account, token, amount, nonce)
}

func balanceMessage(primary string, account, token common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return TypedMessage{
		PrimaryType: primary,
		Account:     account,
		Message: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"token":   token.Hex(),
			"amount":  amount.Dec(),
			"nonce":   fmt.Sprintf("%d", nonce),
		},
	}
}

func MakeOrderMessage(account, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int, nonce uint64) TypedMessage {
	return TypedMessage{
		PrimaryType: TypeMakeOrder,
		Account:     account,
		Message: apitypes.TypedDataMessage{
			"account":    account.Hex(),
			"tokenGet":   tokenGet.Hex(),
			"amountGet":  amountGet.Dec(),
			"tokenGive":  tokenGive.Hex(),
			"amountGive": amountGive.Dec(),
			"nonce":      fmt.Sprintf("%d", nonce),
		},
	}
}

func CancelOrderMessage(account common.Address, orderID, nonce uint64) TypedMessage {
	return orderIDMessage(TypeCancelOrder, account, orderID, nonce)
}

func FillOrderMessage(account common.Address, orderID, nonce uint64) TypedMessage {
	return orderIDMessage(TypeFillOrder, account, orderID, nonce)
}

func orderIDMessage(primary string, account common.Address, orderID, nonce uint64) TypedMessage {
	return TypedMessage{
		PrimaryType: primary,
		Account:     account,
		Message: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"orderId": fmt.Sprintf("%d", orderID),
			"nonce":   fmt.Sprintf("%d", nonce),
		},
	}
}

// ApproveMessage builds the message an account signs to let spender pull
// up to amount of token from its wallet
func ApproveMessage(account, token, spender common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return walletMessage(TypeApprove, "spender", account, token, spender, amount, nonce)
}

// TransferMessage builds the message an account signs to send amount of token to another wallet
func TransferMessage(account, token, to common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return walletMessage(TypeTransfer, "to", account, token, to, amount, nonce)
}

func walletMessage(primary, peerField string, account, token, peer common.Address, amount *uint256.Int, nonce uint64) TypedMessage {
	return TypedMessage{
		PrimaryType: primary,
		Account:     account,
		Message: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"token":   token.Hex(),
			peerField: peer.Hex(),
			"amount":  amount.Dec(),
			"nonce":   fmt.Sprintf("%d", nonce),
		},
	}
}

// EIP712Signer hashes, signs and verifies TypedMessages under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  typedDataTypes["EIP712Domain"],
			msg.PrimaryType: typedDataTypes[msg.PrimaryType],
		},
		PrimaryType: msg.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.Message,
	}
}

// Hash returns the EIP-712 digest of msg:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	if _, ok := typedDataTypes[msg.PrimaryType]; !ok || msg.PrimaryType == "EIP712Domain" {
		return nil, fmt.Errorf("unknown primary type %q", msg.PrimaryType)
	}
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256(rawData), nil
}

// Sign hashes msg and signs the digest with signer
func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// Recover returns the address that signed msg
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature over msg was produced by msg.Account
func (e *EIP712Signer) Verify(msg TypedMessage, signature []byte) (bool, error) {
	recovered, err := e.Recover(msg, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == msg.Account, nil
}

// ToJSON renders msg as the typed data wallets accept for eth_signTypedData_v4
func (e *EIP712Signer) ToJSON(msg TypedMessage) (string, error) {
	out, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(out), nil
}
