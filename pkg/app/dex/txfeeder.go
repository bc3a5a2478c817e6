package dex

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// TxFeederConfig controls devnet traffic generation
type TxFeederConfig struct {
	BatchSize  int           // signed txs per batch
	Interval   time.Duration // time between batches
	NumTraders int
	Seed       int64 // rng seed, so runs are reproducible
}

func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:  10,
		Interval:   500 * time.Millisecond,
		NumTraders: 8,
		Seed:       1,
	}
}

// SignedTxGenerator produces signed exchange transactions from a set of
// deterministic devnet traders
type SignedTxGenerator struct {
	ex      *Exchange
	eip712  *crypto.EIP712Signer
	signers []*crypto.Signer
	nonces  map[common.Address]uint64
	base    *token.Token
	quote   *token.Token
	rng     *rand.Rand
}

// NewSignedTxGenerator derives numTraders keys and signs under eip712's domain
func NewSignedTxGenerator(ex *Exchange, eip712 *crypto.EIP712Signer, base, quote *token.Token, numTraders int, seed int64) *SignedTxGenerator {
	signers := make([]*crypto.Signer, numTraders)
	for i := range signers {
		signers[i] = crypto.DeriveKey(fmt.Sprintf("ledgerdex/devnet/trader/%d", i))
	}
	return &SignedTxGenerator{
		ex:      ex,
		eip712:  eip712,
		signers: signers,
		nonces:  make(map[common.Address]uint64),
		base:    base,
		quote:   quote,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Traders returns the generator's accounts
func (g *SignedTxGenerator) Traders() []common.Address {
	out := make([]common.Address, len(g.signers))
	for i, s := range g.signers {
		out[i] = s.Address()
	}
	return out
}

// SyncNonces starts each trader's nonce after the last one the processor
// accepted, so a restarted node keeps feeding
func (g *SignedTxGenerator) SyncNonces(p *TxProcessor) error {
	for _, s := range g.signers {
		n, err := p.Nonce(s.Address())
		if err != nil {
			return err
		}
		g.nonces[s.Address()] = n
	}
	return nil
}

// FundTraders moves wallet tokens from deployer to every trader and approves
// the exchange for all of it
func (g *SignedTxGenerator) FundTraders(deployer common.Address, amount *uint256.Int) error {
	for _, tok := range []*token.Token{g.base, g.quote} {
		for _, s := range g.signers {
			if err := tok.Transfer(deployer, s.Address(), amount); err != nil {
				return fmt.Errorf("fund %s with %s: %w", s.Address().Hex(), tok.Symbol(), err)
			}
			if err := tok.Approve(s.Address(), g.ex.Address(), new(uint256.Int).SetAllOne()); err != nil {
				return fmt.Errorf("approve %s for %s: %w", tok.Symbol(), s.Address().Hex(), err)
			}
		}
	}
	return nil
}

// Deposits signs one deposit of amount per trader per token
func (g *SignedTxGenerator) Deposits(amount *uint256.Int) ([][]byte, error) {
	var out [][]byte
	for _, tok := range []*token.Token{g.base, g.quote} {
		for _, s := range g.signers {
			raw, err := g.sign(s, &transaction.Action{
				Type:   transaction.TxTypeDeposit,
				Token:  tok.Address(),
				Amount: amount,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// NextBatch signs one random transaction for each of up to n distinct
// traders. A trader appears at most once per batch because the mempool
// reorders by class, which would otherwise break its nonce sequence.
func (g *SignedTxGenerator) NextBatch(n int) ([][]byte, error) {
	if n > len(g.signers) {
		n = len(g.signers)
	}
	out := make([][]byte, 0, n)
	for _, i := range g.rng.Perm(len(g.signers))[:n] {
		raw, err := g.next(g.signers[i])
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// next signs one random transaction for s: mostly new orders, with fills
// and cancels against the current open book
func (g *SignedTxGenerator) next(s *crypto.Signer) ([]byte, error) {
	open := orderbook.StatusOpen
	book := g.ex.Orders(nil, &open)

	r := g.rng.Intn(100)
	switch {
	case r < 30 && len(book) > 0:
		target := book[g.rng.Intn(len(book))].Order
		return g.sign(s, &transaction.Action{Type: transaction.TxTypeFillOrder, OrderID: target.ID})

	case r < 40:
		mine := g.ex.Orders(ptr(s.Address()), &open)
		if len(mine) > 0 {
			target := mine[g.rng.Intn(len(mine))].Order
			return g.sign(s, &transaction.Action{Type: transaction.TxTypeCancelOrder, OrderID: target.ID})
		}
	}

	// price around 10 quote per base, size 1-5 base
	size := uint64(g.rng.Intn(5) + 1)
	price := uint64(8 + g.rng.Intn(5))
	baseAmt := token.Ether(fmt.Sprint(size))
	quoteAmt := token.Ether(fmt.Sprint(size * price))

	act := &transaction.Action{Type: transaction.TxTypeMakeOrder}
	if g.rng.Intn(2) == 0 {
		act.TokenGet, act.AmountGet = g.quote.Address(), quoteAmt
		act.TokenGive, act.AmountGive = g.base.Address(), baseAmt
	} else {
		act.TokenGet, act.AmountGet = g.base.Address(), baseAmt
		act.TokenGive, act.AmountGive = g.quote.Address(), quoteAmt
	}
	return g.sign(s, act)
}

func (g *SignedTxGenerator) sign(s *crypto.Signer, act *transaction.Action) ([]byte, error) {
	g.nonces[s.Address()]++
	act.Account = s.Address()
	act.Nonce = g.nonces[s.Address()]

	tx, err := transaction.Sign(g.eip712, s, act)
	if err != nil {
		return nil, err
	}
	return tx.Serialize()
}

func ptr[T any](v T) *T { return &v }

// StartTxFeeder submits a batch of generated transactions to p every
// cfg.Interval and flushes it, until the returned cancel func is called or
// ctx ends
func StartTxFeeder(ctx context.Context, p *TxProcessor, gen *SignedTxGenerator, cfg TxFeederConfig) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		total, applied := 0, 0
		p.log.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval, "traders", len(gen.signers))

		for {
			select {
			case <-feedCtx.Done():
				p.log.Infow("txfeeder_stopped",
					"generated", total,
					"applied", applied,
					"elapsed", time.Since(startTime).Round(time.Second))
				return
			case <-ticker.C:
				batch, err := gen.NextBatch(cfg.BatchSize)
				if err != nil {
					p.log.Warnw("txfeeder_sign_failed", "err", err)
				}
				for _, raw := range batch {
					p.Submit(raw)
				}
				total += len(batch)
				applied += p.Flush()
			}
		}
	}()

	return cancel
}
