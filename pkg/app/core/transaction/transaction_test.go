package transaction

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

var (
	exchangeAddr = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	dapp         = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	mdai         = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func newVerifier() *Verifier {
	return NewVerifier(crypto.DefaultDomain(1337, exchangeAddr))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	v := newVerifier()
	signer := crypto.DeriveKey("test/user1")
	acct := signer.Address()

	actions := []*Action{
		{Type: TxTypeDeposit, Account: acct, Token: dapp, Amount: uint256.NewInt(100), Nonce: 1},
		{Type: TxTypeWithdraw, Account: acct, Token: dapp, Amount: uint256.NewInt(40), Nonce: 2},
		{Type: TxTypeMakeOrder, Account: acct, TokenGet: mdai, AmountGet: uint256.NewInt(1), TokenGive: dapp, AmountGive: uint256.NewInt(2), Nonce: 3},
		{Type: TxTypeCancelOrder, Account: acct, OrderID: 1, Nonce: 4},
		{Type: TxTypeFillOrder, Account: acct, OrderID: 2, Nonce: 5},
		{Type: TxTypeApprove, Account: acct, Token: dapp, Spender: exchangeAddr, Amount: uint256.NewInt(70), Nonce: 6},
		{Type: TxTypeTransfer, Account: acct, Token: mdai, To: dapp, Amount: uint256.NewInt(9), Nonce: 7},
	}
	for _, act := range actions {
		t.Run(string(act.Type), func(t *testing.T) {
			tx, err := Sign(v.Signer(), signer, act)
			require.NoError(t, err)

			data, err := tx.Serialize()
			require.NoError(t, err)
			parsed, err := ParseTransaction(data)
			require.NoError(t, err)

			got, err := v.Verify(parsed)
			require.NoError(t, err)
			assert.Equal(t, act, got)
		})
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	v := newVerifier()
	victim := crypto.DeriveKey("test/victim")
	attacker := crypto.DeriveKey("test/attacker")

	// attacker signs a withdrawal naming the victim's account
	act := &Action{Type: TxTypeWithdraw, Account: victim.Address(), Token: dapp, Amount: uint256.NewInt(1), Nonce: 1}
	tx, err := Sign(v.Signer(), attacker, act)
	require.NoError(t, err)

	_, err = v.Verify(tx)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsOtherDomain(t *testing.T) {
	signer := crypto.DeriveKey("test/user1")
	other := NewVerifier(crypto.DefaultDomain(1, exchangeAddr))
	act := &Action{Type: TxTypeFillOrder, Account: signer.Address(), OrderID: 1, Nonce: 1}

	tx, err := Sign(other.Signer(), signer, act)
	require.NoError(t, err)

	_, err = newVerifier().Verify(tx)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := newVerifier()
	signer := crypto.DeriveKey("test/user1")
	act := &Action{Type: TxTypeDeposit, Account: signer.Address(), Token: dapp, Amount: uint256.NewInt(5), Nonce: 1}

	tx, err := Sign(v.Signer(), signer, act)
	require.NoError(t, err)
	tx.Deposit.Amount = "5000"

	_, err = v.Verify(tx)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsUnrecoverableSignature(t *testing.T) {
	v := newVerifier()
	signer := crypto.DeriveKey("test/user1")
	act := &Action{Type: TxTypeDeposit, Account: signer.Address(), Token: dapp, Amount: uint256.NewInt(5), Nonce: 1}

	tx, err := Sign(v.Signer(), signer, act)
	require.NoError(t, err)
	// r = s = 0 with the original v: right length, no public key behind it
	tx.Signature = "0x" + strings.Repeat("00", 64) + tx.Signature[len(tx.Signature)-2:]

	_, err = v.Verify(tx)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestDecodeWalletActions(t *testing.T) {
	spender := exchangeAddr.Hex()
	tx := SignedTransaction{
		Type:      TxTypeApprove,
		Approve:   &ApprovePayload{Account: dapp.Hex(), Token: mdai.Hex(), Spender: spender, Amount: "12", Nonce: "3"},
		Signature: "0x01",
	}
	act, err := tx.Decode()
	require.NoError(t, err)
	assert.Equal(t, exchangeAddr, act.Spender)
	assert.Equal(t, "12", act.Amount.Dec())

	tx = SignedTransaction{
		Type:      TxTypeTransfer,
		Transfer:  &TransferPayload{Account: dapp.Hex(), Token: mdai.Hex(), To: "bob", Amount: "1", Nonce: "4"},
		Signature: "0x01",
	}
	_, err = tx.Decode()
	assert.ErrorContains(t, err, "invalid to")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		tx   SignedTransaction
		want string
	}{
		{"missing type", SignedTransaction{Signature: "0x01"}, "missing transaction type"},
		{"missing signature", SignedTransaction{Type: TxTypeDeposit, Deposit: &BalancePayload{}}, "missing signature"},
		{"unknown type", SignedTransaction{Type: "flash_loan", Signature: "0x01"}, "unknown transaction type"},
		{"missing approve payload", SignedTransaction{Type: TxTypeApprove, Transfer: &TransferPayload{}, Signature: "0x01"}, "requires approve payload"},
		{"missing payload", SignedTransaction{Type: TxTypeFillOrder, Signature: "0x01"}, "requires fill_order payload"},
		{"wrong payload", SignedTransaction{Type: TxTypeWithdraw, Deposit: &BalancePayload{}, Signature: "0x01"}, "requires withdraw payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeRejectsBadFields(t *testing.T) {
	good := BalancePayload{Account: dapp.Hex(), Token: mdai.Hex(), Amount: "10", Nonce: "1"}

	tests := []struct {
		name  string
		edit  func(p *BalancePayload)
		field string
	}{
		{"account", func(p *BalancePayload) { p.Account = "alice" }, "account"},
		{"token", func(p *BalancePayload) { p.Token = "0x12" }, "token"},
		{"negative amount", func(p *BalancePayload) { p.Amount = "-1" }, "amount"},
		{"hex amount", func(p *BalancePayload) { p.Amount = "0x10" }, "amount"},
		{"nonce", func(p *BalancePayload) { p.Nonce = "one" }, "nonce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.edit(&p)
			tx := SignedTransaction{Type: TxTypeDeposit, Deposit: &p, Signature: "0x01"}
			_, err := tx.Decode()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.field), err.Error())
		})
	}
}

func TestDecodeSignature(t *testing.T) {
	_, err := decodeSignature("0xzz")
	assert.Error(t, err)

	_, err = decodeSignature("0x" + strings.Repeat("ab", 64))
	assert.ErrorContains(t, err, "65 bytes")

	sig, err := decodeSignature(strings.Repeat("ab", 65))
	require.NoError(t, err)
	assert.Len(t, sig, 65)
}

func TestParseTransactionRejectsGarbage(t *testing.T) {
	_, err := ParseTransaction([]byte("O:GTC:BTC-USDT"))
	assert.Error(t, err)
	_, err = ParseTransaction([]byte(`{"type":"deposit","signature":"0x01"}`))
	assert.Error(t, err)
}

type memNonces map[common.Address]uint64

func (m memNonces) LoadNonce(addr common.Address) (uint64, error) { return m[addr], nil }
func (m memNonces) SaveNonce(addr common.Address, n uint64) error {
	m[addr] = n
	return nil
}

type brokenNonces struct{ memNonces }

func (brokenNonces) SaveNonce(common.Address, uint64) error { return errors.New("disk full") }

func TestNonceTracker(t *testing.T) {
	store := memNonces{}
	n := NewNonceTracker(store)
	acct := dapp

	require.NoError(t, n.Consume(acct, 1))
	require.NoError(t, n.Consume(acct, 5), "gaps are allowed")
	assert.ErrorIs(t, n.Consume(acct, 5), ErrNonceTooLow)
	assert.ErrorIs(t, n.Consume(acct, 3), ErrNonceTooLow)
	assert.ErrorIs(t, n.Consume(mdai, 0), ErrNonceTooLow, "nonces start at 1")

	cur, err := n.Current(acct)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cur)
	assert.Equal(t, uint64(5), store[acct])

	// a fresh tracker over the same store resumes
	n2 := NewNonceTracker(store)
	assert.ErrorIs(t, n2.Consume(acct, 5), ErrNonceTooLow)
	require.NoError(t, n2.Consume(acct, 6))
}

func TestNonceTrackerSaveFailureKeepsNonce(t *testing.T) {
	n := NewNonceTracker(brokenNonces{memNonces{}})
	require.Error(t, n.Consume(dapp, 1))

	cur, err := n.Current(dapp)
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestParseTransactionMalformed(t *testing.T) {
	for _, raw := range []string{`{`, `{"type":"deposit"}`, `{"type":"swap","signature":"0x01"}`} {
		_, err := ParseTransaction([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}
