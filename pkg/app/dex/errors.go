package dex

import "errors"

// Rejection reasons. The strings are part of the public surface: clients
// match on them, so they stay byte-for-byte stable.
var (
	ErrInsufficientBalance = errors.New("Exchange: Insufficient Balance")
	ErrOrderNotFound       = errors.New("Exchange: Order does not exist")
	ErrNotOwner            = errors.New("Exchange: Not the Owner")
	ErrOrderFilled         = errors.New("Exchange: Order has already been filled")
	ErrOrderCancelled      = errors.New("Exchange: Order has been canceled")
	ErrSelfFill            = errors.New("Exchange: Cannot fill own order")
	ErrFeePolicyMismatch   = errors.New("Exchange: fee policy differs from stored policy")
	ErrCustodyAccount      = errors.New("Exchange: custody account cannot be used as a wallet")
)

// reasonError carries an alternate reason string for a sentinel.
// errors.Is still matches the sentinel.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.err }

// errFillOrderNotFound is how a fill reports an unknown id
var errFillOrderNotFound = &reasonError{reason: "Exchange: Order does not Exist", err: ErrOrderNotFound}
