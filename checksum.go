// Checksum algorithms for header copy validation.
//
// Every header copy ends with an 8-byte digest over the rest of the
// copy. Two algorithms are supported, selectable via Config.Checksum;
// the chosen algorithm is recorded in the header so readers validate
// with the same one the writer used.
package tsarc

import (
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Checksum algorithm constants.
const (
	ChecksumXXH3    = 1 // Default, fastest
	ChecksumBlake2b = 2 // Cryptographic, for hostile media
)

// checksum digests data with the selected algorithm, truncated to 64
// bits. Unknown algorithms return 0; header decode rejects them before
// any digest comparison happens.
func checksum(data []byte, alg int) uint64 {
	switch alg {
	case ChecksumXXH3:
		return xxh3.Hash(data)
	case ChecksumBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		h.Write(data)
		sum := h.Sum(nil)
		var v uint64
		for _, b := range sum {
			v = v<<8 | uint64(b)
		}
		return v
	default:
		return 0
	}
}
