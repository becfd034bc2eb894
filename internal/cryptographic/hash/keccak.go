package hash

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of data with the original Keccak
// padding used by Ethereum, not the FIPS-202 SHA3-256 padding.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
