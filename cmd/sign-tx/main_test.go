package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

var account = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

func TestBuildAction(t *testing.T) {
	tok := "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	act, err := buildAction(options{txType: "deposit", token: tok, amount: "1.5", nonce: 4}, account)
	require.NoError(t, err)
	assert.Equal(t, transaction.TxTypeDeposit, act.Type)
	assert.Equal(t, "1500000000000000000", act.Amount.Dec())
	assert.Equal(t, uint64(4), act.Nonce)

	act, err = buildAction(options{
		txType: "make_order", tokenGet: tok, amountGet: "1",
		tokenGive: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", amountGive: "0.25",
	}, account)
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", act.AmountGive.Dec())

	act, err = buildAction(options{txType: "fill_order", orderID: 7}, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), act.OrderID)

	act, err = buildAction(options{txType: "approve", token: tok, spender: "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9", amount: "2"}, account)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"), act.Spender)

	act, err = buildAction(options{txType: "transfer", token: tok, to: account.Hex(), amount: "0.5"}, account)
	require.NoError(t, err)
	assert.Equal(t, account, act.To)
}

func TestBuildActionRejects(t *testing.T) {
	cases := map[string]options{
		"unknown type":    {txType: "flash_loan"},
		"bad token":       {txType: "withdraw", token: "nope", amount: "1"},
		"negative":        {txType: "deposit", token: "0x5FbDB2315678afecb367f032d93F642f64180aa3", amount: "-1"},
		"too precise":     {txType: "deposit", token: "0x5FbDB2315678afecb367f032d93F642f64180aa3", amount: "0.0000000000000000001"},
		"missing order":   {txType: "cancel_order"},
		"missing amount":  {txType: "make_order", tokenGet: "0x5FbDB2315678afecb367f032d93F642f64180aa3"},
		"missing spender": {txType: "approve", token: "0x5FbDB2315678afecb367f032d93F642f64180aa3", amount: "1"},
		"missing to":      {txType: "transfer", token: "0x5FbDB2315678afecb367f032d93F642f64180aa3", amount: "1"},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildAction(o, account)
			assert.Error(t, err)
		})
	}
}

func TestLoadSigner(t *testing.T) {
	_, err := loadSigner(options{})
	assert.Error(t, err)
	_, err = loadSigner(options{key: "01", label: "x"})
	assert.Error(t, err)

	a, err := loadSigner(options{label: "ledgerdex/devnet/maker"})
	require.NoError(t, err)
	b, err := loadSigner(options{key: a.PrivateKeyHex()})
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())
}

func TestRunSignsVerifiableTx(t *testing.T) {
	err := run(options{
		txType:   "fill_order",
		label:    "ledgerdex/devnet/taker",
		orderID:  1,
		nonce:    1,
		chainID:  1337,
		exchange: "0x00000000000000000000000000000000000Ec0de",
	})
	assert.NoError(t, err)

	err = run(options{txType: "fill_order", label: "x", orderID: 1, exchange: "bad"})
	assert.Error(t, err)
}

func TestRunVerbose(t *testing.T) {
	err := run(options{
		txType:   "cancel_order",
		label:    "ledgerdex/devnet/maker",
		orderID:  3,
		nonce:    2,
		chainID:  1337,
		exchange: "0x00000000000000000000000000000000000Ec0de",
		verbose:  true,
	})
	assert.NoError(t, err)
}

func TestDescribe(t *testing.T) {
	signer := crypto.DeriveKey("ledgerdex/devnet/maker")
	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain(1337, common.HexToAddress("0x00000000000000000000000000000000000Ec0de")))
	act := &transaction.Action{Type: transaction.TxTypeFillOrder, Account: signer.Address(), OrderID: 9, Nonce: 1}

	sig, err := eip712.Sign(signer, act.Message())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, describe(&buf, eip712, signer, act, sig))
	out := buf.String()

	assert.Contains(t, out, signer.Address().Hex())
	assert.Contains(t, out, "Public key: 0x04")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Len(t, strings.TrimSpace(strings.TrimPrefix(lines[3], "r:")), 66)
	assert.Equal(t, "v:          "+map[byte]string{0: "0", 1: "1"}[sig[64]], lines[5])

	assert.Error(t, describe(&buf, eip712, signer, act, sig[:64]))
}
