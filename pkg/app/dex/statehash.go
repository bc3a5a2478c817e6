package dex

import (
	"encoding/binary"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// StateHash is a keccak256 digest of the fee policy, every internal balance,
// every order and its status. Two exchanges that applied the same operations
// in the same order report the same hash.
func (e *Exchange) StateHash() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := sha3.NewLegacyKeccak256()
	h.Write(e.address.Bytes())
	h.Write(e.feeAccount.Bytes())
	writeUint64(h, e.feePercent)
	writeUint64(h, e.book.Count())

	for _, entry := range e.ledger.Entries() {
		if entry.Amount.IsZero() {
			continue
		}
		h.Write(entry.Asset.Bytes())
		h.Write(entry.Owner.Bytes())
		b := entry.Amount.Bytes32()
		h.Write(b[:])
	}

	for _, o := range e.book.List(nil) {
		status, _ := e.book.Status(o.ID)
		writeUint64(h, o.ID)
		h.Write(o.Creator.Bytes())
		h.Write(o.TokenGet.Bytes())
		get := o.AmountGet.Bytes32()
		h.Write(get[:])
		h.Write(o.TokenGive.Bytes())
		give := o.AmountGive.Bytes32()
		h.Write(give[:])
		writeUint64(h, uint64(o.Timestamp))
		h.Write([]byte{byte(status)})
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
