package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// SeedConfig drives Seed. Base and Quote are the two fixture tokens traded;
// Maker and Taker are funded from Deployer's wallet.
type SeedConfig struct {
	Deployer common.Address
	Maker    common.Address
	Taker    common.Address
	Base     *token.Token
	Quote    *token.Token

	Cancelled  int // orders made then cancelled by Maker
	Filled     int // orders made by Maker and filled by Taker
	OpenOrders int // resting orders left by each of Maker and Taker
}

// DefaultSeedConfig mirrors the devnet seed: one cancelled order, three
// fills, and ten resting orders per side.
func DefaultSeedConfig(deployer, maker, taker common.Address, base, quote *token.Token) SeedConfig {
	return SeedConfig{
		Deployer:   deployer,
		Maker:      maker,
		Taker:      taker,
		Base:       base,
		Quote:      quote,
		Cancelled:  1,
		Filled:     3,
		OpenOrders: 10,
	}
}

// SeedReport counts what Seed did
type SeedReport struct {
	Deposits  int
	Cancelled int
	Filled    int
	Open      int
}

// Seed populates a fresh exchange with activity: it distributes tokens,
// deposits them, then cancels, fills and leaves open some orders.
func Seed(e *Exchange, cfg SeedConfig) (*SeedReport, error) {
	rep := &SeedReport{}
	wallet := token.Ether("10000")
	deposit := token.Ether("1000")

	// Distribute tokens
	for _, tok := range []*token.Token{cfg.Base, cfg.Quote} {
		for _, user := range []common.Address{cfg.Maker, cfg.Taker} {
			if err := tok.Transfer(cfg.Deployer, user, wallet); err != nil {
				return rep, fmt.Errorf("distribute %s to %s: %w", tok.Symbol(), user.Hex(), err)
			}
		}
	}

	// Deposit funds into exchange
	deposits := []struct {
		user common.Address
		tok  *token.Token
	}{
		{cfg.Maker, cfg.Base},
		{cfg.Taker, cfg.Quote},
	}
	for _, d := range deposits {
		if err := d.tok.Approve(d.user, e.Address(), deposit); err != nil {
			return rep, fmt.Errorf("approve %s for %s: %w", d.tok.Symbol(), d.user.Hex(), err)
		}
		if err := e.Deposit(d.user, d.tok.Address(), deposit); err != nil {
			return rep, fmt.Errorf("deposit %s for %s: %w", d.tok.Symbol(), d.user.Hex(), err)
		}
		rep.Deposits++
	}

	base, quote := cfg.Base.Address(), cfg.Quote.Address()

	// Cancel some orders
	for i := 0; i < cfg.Cancelled; i++ {
		o, err := e.MakeOrder(cfg.Maker, quote, token.Ether("100"), base, token.Ether("5"))
		if err != nil {
			return rep, fmt.Errorf("make order to cancel: %w", err)
		}
		if err := e.CancelOrder(cfg.Maker, o.ID); err != nil {
			return rep, fmt.Errorf("cancel order %d: %w", o.ID, err)
		}
		rep.Cancelled++
	}

	// Fill some orders
	for i := 1; i <= cfg.Filled; i++ {
		amountGet := token.Ether(fmt.Sprint(10 * i))
		o, err := e.MakeOrder(cfg.Maker, quote, amountGet, base, token.Ether("10"))
		if err != nil {
			return rep, fmt.Errorf("make order to fill: %w", err)
		}
		if err := e.FillOrder(cfg.Taker, o.ID); err != nil {
			return rep, fmt.Errorf("fill order %d: %w", o.ID, err)
		}
		rep.Filled++
	}

	// Make some open orders
	for i := 1; i <= cfg.OpenOrders; i++ {
		if _, err := e.MakeOrder(cfg.Maker, quote, token.Ether(fmt.Sprint(10*i)), base, token.Ether("10")); err != nil {
			return rep, fmt.Errorf("make maker open order: %w", err)
		}
		rep.Open++
		if _, err := e.MakeOrder(cfg.Taker, base, token.Ether("10"), quote, token.Ether(fmt.Sprint(10*i))); err != nil {
			return rep, fmt.Errorf("make taker open order: %w", err)
		}
		rep.Open++
	}

	e.log.Infow("devnet_seeded",
		"deposits", rep.Deposits,
		"cancelled", rep.Cancelled,
		"filled", rep.Filled,
		"open", rep.Open,
		"orders", e.OrderCount())
	return rep, nil
}
