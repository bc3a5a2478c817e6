package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// Fixed-width numeric suffixes keep ids and sequence numbers in
// lexicographic order, so prefix scans come back sorted.
const (
	prefixBalance   = "bal:"   // internal balance per (asset, owner)
	prefixOrder     = "ord:"   // order record
	prefixCancelled = "cxl:"   // cancelled marker
	prefixFilled    = "fil:"   // filled marker
	prefixEvent     = "evt:"   // event log
	prefixNonce     = "nonce:" // signed transaction nonce per account
	prefixToken     = "tok:"   // token ledger state

	keyFeePolicy  = "meta:fee"
	keyOrderCount = "meta:order_count"
)

// balanceKey returns the key for an internal balance
// Format: "bal:{asset}:{owner}"
func balanceKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), owner.Hex()))
}

// parseBalanceKey is the inverse of balanceKey
func parseBalanceKey(key []byte) (asset, owner common.Address, err error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key: %s", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

// Format: "ord:{id:020d}"
func orderKey(id uint64) []byte { return seqKey(prefixOrder, id) }

// Format: "cxl:{id:020d}"
func cancelledKey(id uint64) []byte { return seqKey(prefixCancelled, id) }

// Format: "fil:{id:020d}"
func filledKey(id uint64) []byte { return seqKey(prefixFilled, id) }

// Format: "evt:{seq:020d}"
func eventKey(seq uint64) []byte { return seqKey(prefixEvent, seq) }

func seqKey(prefix string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, n))
}

func parseSeqKey(prefix string, key []byte) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(string(key), prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %s: %w", key, err)
	}
	return n, nil
}

// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// Format: "tok:{address}"
func tokenKey(addr common.Address) []byte {
	return []byte(prefixToken + addr.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 encoding: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
