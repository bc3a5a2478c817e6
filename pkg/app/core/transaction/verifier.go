package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/ledgerdex/pkg/crypto"
)

var (
	// ErrBadSignature is returned when the recovered signer is not the payload's account
	ErrBadSignature = errors.New("signature does not match account")
	// ErrMalformed covers transactions that cannot be parsed or decoded
	ErrMalformed = errors.New("malformed transaction")
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Signer exposes the EIP-712 signer so clients in the same process sign
// under exactly the domain this verifier checks
func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// Verify decodes tx and checks that its signature was produced by the account
// named in its payload. It returns the decoded action.
func (v *Verifier) Verify(tx *SignedTransaction) (*Action, error) {
	act, err := tx.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s payload: %w", ErrMalformed, tx.Type, err)
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature: %w", ErrMalformed, err)
	}

	signer, err := v.eip712Signer.Recover(act.Message(), sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != act.Account {
		return nil, fmt.Errorf("%w: signed by %s, account %s", ErrBadSignature, signer.Hex(), act.Account.Hex())
	}
	return act, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
