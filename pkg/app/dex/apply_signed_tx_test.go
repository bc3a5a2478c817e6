package dex_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

func newProcessor(t *testing.T, h *harness) *dex.TxProcessor {
	verifier := transaction.NewVerifier(crypto.DefaultDomain(1337, exchangeID))
	return dex.NewTxProcessor(h.ex, verifier, transaction.NewNonceTracker(h.db), zaptest.NewLogger(t).Sugar())
}

func signRaw(t *testing.T, p *dex.TxProcessor, s *crypto.Signer, act *transaction.Action) []byte {
	t.Helper()
	act.Account = s.Address()
	tx, err := transaction.Sign(p.Verifier().Signer(), s, act)
	require.NoError(t, err)
	raw, err := tx.Serialize()
	require.NoError(t, err)
	return raw
}

func TestApplySignedLifecycle(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(t, h)
	maker := crypto.DeriveKey("test/maker")
	taker := crypto.DeriveKey("test/taker")
	h.fund(h.dapp, maker.Address(), token.Ether("100"))
	h.fund(h.mdai, taker.Address(), token.Ether("100"))

	_, err := p.Apply(signRaw(t, p, maker, &transaction.Action{Type: transaction.TxTypeDeposit, Token: h.dapp.Address(), Amount: token.Ether("100"), Nonce: 1}))
	require.NoError(t, err)
	_, err = p.Apply(signRaw(t, p, taker, &transaction.Action{Type: transaction.TxTypeDeposit, Token: h.mdai.Address(), Amount: token.Ether("100"), Nonce: 1}))
	require.NoError(t, err)

	rcpt, err := p.Apply(signRaw(t, p, maker, &transaction.Action{
		Type:     transaction.TxTypeMakeOrder,
		TokenGet: h.mdai.Address(), AmountGet: token.Ether("1"),
		TokenGive: h.dapp.Address(), AmountGive: token.Ether("1"),
		Nonce: 2,
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.OrderID)
	assert.Equal(t, maker.Address(), rcpt.Account)

	_, err = p.Apply(signRaw(t, p, taker, &transaction.Action{Type: transaction.TxTypeFillOrder, OrderID: 1, Nonce: 2}))
	require.NoError(t, err)
	assert.True(t, h.ex.IsOrderFilled(1))
	assert.Equal(t, token.Ether("98.9"), h.balance(h.mdai, taker.Address()))

	_, err = p.Apply(signRaw(t, p, maker, &transaction.Action{Type: transaction.TxTypeWithdraw, Token: h.mdai.Address(), Amount: token.Ether("1"), Nonce: 3}))
	require.NoError(t, err)
	assert.Equal(t, token.Ether("1"), h.mdai.BalanceOf(maker.Address()))

	n, err := p.Nonce(maker.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestApplySignedWalletOperations(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(t, h)
	funder := crypto.DeriveKey("test/funder")
	fresh := crypto.DeriveKey("test/fresh")
	require.NoError(t, h.dapp.Transfer(deployer, funder.Address(), token.Ether("20")))

	rcpt, err := p.Apply(signRaw(t, p, funder, &transaction.Action{
		Type: transaction.TxTypeTransfer, Token: h.dapp.Address(), To: fresh.Address(), Amount: token.Ether("8"), Nonce: 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, transaction.TxTypeTransfer, rcpt.Type)
	assert.Equal(t, token.Ether("8"), h.dapp.BalanceOf(fresh.Address()))

	_, err = p.Apply(signRaw(t, p, fresh, &transaction.Action{Type: transaction.TxTypeDeposit, Token: h.dapp.Address(), Amount: token.Ether("5"), Nonce: 1}))
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

	_, err = p.Apply(signRaw(t, p, fresh, &transaction.Action{
		Type: transaction.TxTypeApprove, Token: h.dapp.Address(), Spender: exchangeID, Amount: token.Ether("5"), Nonce: 2,
	}))
	require.NoError(t, err)
	assert.Equal(t, token.Ether("5"), h.dapp.Allowance(fresh.Address(), exchangeID))

	_, err = p.Apply(signRaw(t, p, fresh, &transaction.Action{Type: transaction.TxTypeDeposit, Token: h.dapp.Address(), Amount: token.Ether("5"), Nonce: 3}))
	require.NoError(t, err)
	assert.Equal(t, token.Ether("5"), h.balance(h.dapp, fresh.Address()))
	assert.True(t, h.dapp.Allowance(fresh.Address(), exchangeID).IsZero())

	_, err = p.Apply(signRaw(t, p, fresh, &transaction.Action{Type: transaction.TxTypeWithdraw, Token: h.dapp.Address(), Amount: token.Ether("2"), Nonce: 4}))
	require.NoError(t, err)
	assert.Equal(t, token.Ether("5"), h.dapp.BalanceOf(fresh.Address()))
	require.NoError(t, h.ex.CheckCustody())
}

func TestWalletOperationsGuardCustody(t *testing.T) {
	h := deposited(t)

	err := h.ex.Transfer(user1, h.dapp.Address(), exchangeID, token.Ether("1"))
	assert.ErrorIs(t, err, dex.ErrCustodyAccount)
	err = h.ex.Transfer(exchangeID, h.dapp.Address(), user1, token.Ether("1"))
	assert.ErrorIs(t, err, dex.ErrCustodyAccount)
	err = h.ex.Approve(exchangeID, h.dapp.Address(), user1, token.Ether("1"))
	assert.ErrorIs(t, err, dex.ErrCustodyAccount)

	err = h.ex.Transfer(user1, common.HexToAddress("0xdead"), user2, token.Ether("1"))
	assert.ErrorIs(t, err, token.ErrUnknownToken)
	err = h.ex.Transfer(user1, h.dapp.Address(), user2, token.Ether("1"))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance, "the fixture deposit emptied user1's wallet")

	assert.Empty(t, h.events, "wallet operations emit no exchange events")
	assert.Equal(t, token.Ether("100"), h.dapp.BalanceOf(exchangeID))
}

func TestApplyRejectsReplay(t *testing.T) {
	h := deposited(t)
	p := newProcessor(t, h)
	s := crypto.DeriveKey("test/maker")

	raw := signRaw(t, p, s, &transaction.Action{Type: transaction.TxTypeCancelOrder, OrderID: 1, Nonce: 1})
	_, err := p.Apply(raw)
	assert.ErrorIs(t, err, dex.ErrOrderNotFound, "nonce is spent even though the cancel failed")

	_, err = p.Apply(raw)
	assert.ErrorIs(t, err, transaction.ErrNonceTooLow)
}

func TestApplyRejectsForgery(t *testing.T) {
	h := deposited(t)
	p := newProcessor(t, h)
	attacker := crypto.DeriveKey("test/attacker")

	act := &transaction.Action{Type: transaction.TxTypeWithdraw, Account: user1, Token: h.dapp.Address(), Amount: token.Ether("100"), Nonce: 1}
	tx, err := transaction.Sign(p.Verifier().Signer(), attacker, act)
	require.NoError(t, err)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = p.Apply(raw)
	assert.ErrorIs(t, err, transaction.ErrBadSignature)
	assert.Equal(t, token.Ether("100"), h.balance(h.dapp, user1))

	n, err := p.Nonce(user1)
	require.NoError(t, err)
	assert.Zero(t, n, "a forged tx must not burn the victim's nonce")
}

func TestApplyRejectsMalformed(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(t, h)
	_, err := p.Apply([]byte(`{"type":"deposit"`))
	assert.Error(t, err)
}

func TestFlushAppliesInMempoolOrder(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(t, h)
	maker := crypto.DeriveKey("test/maker")
	taker := crypto.DeriveKey("test/taker")
	h.fund(h.dapp, maker.Address(), token.Ether("10"))

	// the maker's order is queued before its deposit but the deposit drains first
	p.Submit(signRaw(t, p, taker, &transaction.Action{Type: transaction.TxTypeCancelOrder, OrderID: 7, Nonce: 1}))
	p.Submit(signRaw(t, p, maker, &transaction.Action{
		Type:     transaction.TxTypeMakeOrder,
		TokenGet: h.mdai.Address(), AmountGet: token.Ether("1"),
		TokenGive: h.dapp.Address(), AmountGive: token.Ether("10"),
		Nonce: 2,
	}))
	p.Submit(signRaw(t, p, maker, &transaction.Action{Type: transaction.TxTypeDeposit, Token: h.dapp.Address(), Amount: token.Ether("10"), Nonce: 1}))
	require.Equal(t, 3, p.Pending())

	assert.Equal(t, 2, p.Flush())
	assert.Zero(t, p.Pending())
	assert.Equal(t, uint64(1), h.ex.OrderCount())
}

func TestSignedTxGeneratorDrivesExchange(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(t, h)
	gen := dex.NewSignedTxGenerator(h.ex, p.Verifier().Signer(), h.dapp, h.mdai, 4, 7)

	require.NoError(t, gen.FundTraders(deployer, token.Ether("1000")))
	deposits, err := gen.Deposits(token.Ether("500"))
	require.NoError(t, err)
	require.Len(t, deposits, 8)
	for _, raw := range deposits {
		p.Submit(raw)
	}
	require.Equal(t, 8, p.Flush())

	for i := 0; i < 20; i++ {
		batch, err := gen.NextBatch(10)
		require.NoError(t, err)
		require.Len(t, batch, 4, "one tx per trader per batch")
		for _, raw := range batch {
			p.Submit(raw)
		}
		p.Flush()
	}

	assert.NotZero(t, h.ex.OrderCount())
	require.NoError(t, h.ex.CheckCustody())

	for _, trader := range gen.Traders() {
		n, err := p.Nonce(trader)
		require.NoError(t, err)
		assert.Equal(t, uint64(22), n, "every generated tx verified and spent its nonce")
	}

	// a restarted generator resumes after the stored nonces
	gen2 := dex.NewSignedTxGenerator(h.ex, p.Verifier().Signer(), h.dapp, h.mdai, 4, 8)
	require.NoError(t, gen2.SyncNonces(p))
	batch, err := gen2.NextBatch(4)
	require.NoError(t, err)
	for _, raw := range batch {
		p.Submit(raw)
	}
	p.Flush()
	n, err := p.Nonce(gen2.Traders()[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(23), n)
}
