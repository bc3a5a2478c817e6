package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fixture describes one of the devnet tokens
type Fixture struct {
	Name   string
	Symbol string
}

// DevnetFixtures are deployed in this order by Deploy
var DevnetFixtures = []Fixture{
	{Name: "Dapp University", Symbol: "DAPP"},
	{Name: "Mock Dai", Symbol: "mDAI"},
	{Name: "Mock USDC", Symbol: "mUSDC"},
	{Name: "Mock Link", Symbol: "mLINK"},
}

// DevnetSupply is the whole-token supply minted to the deployer of every fixture
const DevnetSupply = "1000000"

// Deploy creates one 18-decimal token per fixture, each with DevnetSupply minted
// to deployer. Token addresses follow contract-creation addressing from the
// deployer, so the same deployer always yields the same asset ids.
func Deploy(deployer common.Address, fixtures []Fixture) []*Token {
	tokens := make([]*Token, 0, len(fixtures))
	for i, f := range fixtures {
		addr := crypto.CreateAddress(deployer, uint64(i))
		tokens = append(tokens, New(addr, f.Name, f.Symbol, 18, Ether(DevnetSupply), deployer))
	}
	return tokens
}
