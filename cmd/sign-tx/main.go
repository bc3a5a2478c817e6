package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/ledgerdex/params"
	"github.com/uhyunpark/ledgerdex/pkg/app/core/transaction"
	"github.com/uhyunpark/ledgerdex/pkg/crypto"
	"github.com/uhyunpark/ledgerdex/pkg/token"
)

// options mirrors the command-line flags
type options struct {
	txType     string
	key        string
	label      string
	token      string
	amount     string
	spender    string
	to         string
	tokenGet   string
	amountGet  string
	tokenGive  string
	amountGive string
	orderID    uint64
	nonce      uint64
	chainID    int64
	exchange   string
	typed      bool
	verbose    bool
}

func main() {
	cfg := params.LoadFromEnv("")

	var o options
	flag.StringVar(&o.txType, "type", "", "deposit | withdraw | make_order | cancel_order | fill_order | approve | transfer")
	flag.StringVar(&o.key, "key", "", "hex private key of the signing account")
	flag.StringVar(&o.label, "label", "", "derive the signing key from a label instead of -key (devnet only)")
	flag.StringVar(&o.token, "token", "", "token address for deposit, withdraw, approve and transfer")
	flag.StringVar(&o.amount, "amount", "", "whole-token amount for deposit, withdraw, approve and transfer, e.g. 1.5")
	flag.StringVar(&o.spender, "spender", "", "address allowed to pull tokens for approve (usually the exchange)")
	flag.StringVar(&o.to, "to", "", "recipient wallet for transfer")
	flag.StringVar(&o.tokenGet, "token-get", "", "token the order creator wants")
	flag.StringVar(&o.amountGet, "amount-get", "", "whole-token amount the creator wants")
	flag.StringVar(&o.tokenGive, "token-give", "", "token the order creator gives")
	flag.StringVar(&o.amountGive, "amount-give", "", "whole-token amount the creator gives")
	flag.Uint64Var(&o.orderID, "order", 0, "order id for cancel_order and fill_order")
	flag.Uint64Var(&o.nonce, "nonce", 1, "account nonce, one more than the last accepted")
	flag.Int64Var(&o.chainID, "chain-id", cfg.Node.ChainID, "EIP-712 domain chain id")
	flag.StringVar(&o.exchange, "exchange", cfg.Exchange.Address.Hex(), "exchange address (EIP-712 verifying contract)")
	flag.BoolVar(&o.typed, "typed", false, "also print the EIP-712 typed data for wallet signing")
	flag.BoolVar(&o.verbose, "verbose", false, "also print the public key, digest and r/s/v of the signature")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	signer, err := loadSigner(o)
	if err != nil {
		return err
	}
	act, err := buildAction(o, signer.Address())
	if err != nil {
		return err
	}
	exchange, err := hexAddress("exchange", o.exchange)
	if err != nil {
		return err
	}

	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain(o.chainID, exchange))
	tx, err := transaction.Sign(eip712, signer, act)
	if err != nil {
		return err
	}

	// Verify before printing so a bad domain shows up here, not at the node
	verified, err := transaction.NewVerifier(eip712.Domain()).Verify(tx)
	if err != nil {
		return err
	}
	if verified.Account != signer.Address() {
		return errors.New("signature recovered a different account")
	}
	sig, err := hexutil.Decode(tx.Signature)
	if err != nil {
		return err
	}
	ok, err := eip712.Verify(act.Message(), sig)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature does not match the typed message")
	}

	if o.verbose {
		if err := describe(os.Stderr, eip712, signer, act, sig); err != nil {
			return err
		}
	}

	if o.typed {
		typed, err := eip712.ToJSON(act.Message())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Typed data:")
		fmt.Fprintln(os.Stderr, typed)
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// describe prints what a wallet or contract needs to check the signature by hand
func describe(w io.Writer, eip712 *crypto.EIP712Signer, signer *crypto.Signer, act *transaction.Action, sig []byte) error {
	digest, err := eip712.Hash(act.Message())
	if err != nil {
		return err
	}
	r, s, v, err := crypto.SignatureToRSV(sig)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Account:    %s\n", signer.Address().Hex())
	fmt.Fprintf(w, "Public key: 0x%s\n", signer.PublicKeyHex())
	fmt.Fprintf(w, "Digest:     %s\n", hexutil.Encode(digest))
	fmt.Fprintf(w, "r:          0x%064x\n", r)
	fmt.Fprintf(w, "s:          0x%064x\n", s)
	fmt.Fprintf(w, "v:          %d\n", v)
	return nil
}

func loadSigner(o options) (*crypto.Signer, error) {
	switch {
	case o.key != "" && o.label != "":
		return nil, errors.New("use either -key or -label")
	case o.key != "":
		return crypto.FromPrivateKeyHex(o.key)
	case o.label != "":
		return crypto.DeriveKey(o.label), nil
	}
	return nil, errors.New("-key or -label is required")
}

// buildAction turns flags into a typed action. Amounts are whole tokens with
// up to 18 decimals, the precision of every devnet fixture.
func buildAction(o options, account common.Address) (*transaction.Action, error) {
	act := &transaction.Action{
		Type:    transaction.TxType(o.txType),
		Account: account,
		Nonce:   o.nonce,
	}

	var err error
	switch act.Type {
	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		if act.Token, err = hexAddress("token", o.token); err != nil {
			return nil, err
		}
		if act.Amount, err = units("amount", o.amount); err != nil {
			return nil, err
		}
	case transaction.TxTypeMakeOrder:
		if act.TokenGet, err = hexAddress("token-get", o.tokenGet); err != nil {
			return nil, err
		}
		if act.AmountGet, err = units("amount-get", o.amountGet); err != nil {
			return nil, err
		}
		if act.TokenGive, err = hexAddress("token-give", o.tokenGive); err != nil {
			return nil, err
		}
		if act.AmountGive, err = units("amount-give", o.amountGive); err != nil {
			return nil, err
		}
	case transaction.TxTypeCancelOrder, transaction.TxTypeFillOrder:
		if o.orderID == 0 {
			return nil, errors.New("-order is required")
		}
		act.OrderID = o.orderID
	case transaction.TxTypeApprove, transaction.TxTypeTransfer:
		if act.Token, err = hexAddress("token", o.token); err != nil {
			return nil, err
		}
		if act.Amount, err = units("amount", o.amount); err != nil {
			return nil, err
		}
		if act.Type == transaction.TxTypeApprove {
			act.Spender, err = hexAddress("spender", o.spender)
		} else {
			act.To, err = hexAddress("to", o.to)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown -type %q", o.txType)
	}
	return act, nil
}

func hexAddress(flagName, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("-%s: invalid address %q", flagName, v)
	}
	return common.HexToAddress(v), nil
}

func units(flagName, v string) (*uint256.Int, error) {
	amt, err := token.ParseUnits(v, 18)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", flagName, err)
	}
	return amt, nil
}
