// Package keyderivation regenerates a user's private keys from secrets so
// that no key material needs to be stored.
//
// Seed rule v1: SHAKE256 absorbs SeedTagV1, then the server secret and the
// user secret, each prefixed with its length as a big-endian uint32. The XOF
// output is read as a stream of 32-byte big-endian scalar candidates; zero
// and values >= N are rejected. Changing any of this changes every derived
// address, so a new rule must get a new tag.
package keyderivation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

const (
	SeedTagV1 = "cosigner/keyderivation/v1"

	// MaxRejections bounds the number of out-of-range candidates tolerated
	// on top of the requested skip count. A rejection has probability ~2^-128.
	MaxRejections = 64
)

var (
	ErrNegativeSkip        = errors.New("skip must not be negative")
	ErrDerivationExhausted = errors.New("no valid scalar candidate within the attempt limit")
)

// Derive returns the private key at position skip in the stream seeded by
// the two secrets.
func Derive(userSecret, serverSecret []byte, skip int) (*secp256k1.PrivateKey, error) {
	if skip < 0 {
		return nil, ErrNegativeSkip
	}

	stream := newStream(userSecret, serverSecret)
	var (
		candidate [32]byte
		scalar    secp256k1.ModNScalar
		accepted  int
	)
	for attempt := 0; attempt <= skip+MaxRejections; attempt++ {
		if _, err := io.ReadFull(stream, candidate[:]); err != nil {
			return nil, fmt.Errorf("read seed stream: %w", err)
		}
		overflow := scalar.SetBytes(&candidate)
		if overflow != 0 || scalar.IsZero() {
			continue
		}
		if accepted == skip {
			return secp256k1.NewPrivateKey(&scalar), nil
		}
		accepted++
	}
	return nil, ErrDerivationExhausted
}

func newStream(userSecret, serverSecret []byte) io.Reader {
	h := sha3.NewShake256()
	h.Write([]byte(SeedTagV1))
	writeLenPrefixed(h, serverSecret)
	writeLenPrefixed(h, userSecret)
	return h
}

func writeLenPrefixed(w io.Writer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	w.Write(l[:])
	w.Write(b)
}
