package signature

import (
	"bytes"
	"errors"
	"fmt"

	"cosigner/internal/cryptographic/hash"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	// MaxSignAttempts bounds the fresh-nonce retries in Sign.
	MaxSignAttempts = 16

	// RecoveryIDOffset is added to the recovery id for transport (V = 27/28).
	RecoveryIDOffset = 27

	PrivateKeySize = 32
	PublicKeySize  = 65
	AddressSize    = 20
)

var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidDigest     = errors.New("digest must be 32 bytes")
	ErrInvalidSignature  = errors.New("invalid signature scalar")
	ErrInvalidRecoveryID = errors.New("recovery id must be 0 or 1")
	ErrPointNotOnCurve   = errors.New("r is not the x coordinate of a curve point")
	ErrPointAtInfinity   = errors.New("recovered point at infinity")
	ErrSignFailed        = errors.New("no recoverable signature within the attempt limit")
)

type (
	// Signature is an ECDSA signature with the recovery id that selects
	// which of the two candidate public keys produced it.
	Signature struct {
		R          [32]byte
		S          [32]byte
		RecoveryID byte
	}
)

// V returns the recovery id in its transport encoding.
func (s *Signature) V() byte {
	return s.RecoveryID + RecoveryIDOffset
}

// Bytes returns R || S || V.
func (s *Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V())
}

// ParseSignature builds a Signature from big-endian r and s and a transport
// encoded v (27/28). A raw recovery id (0/1) is accepted as well.
func ParseSignature(r, s []byte, v byte) (*Signature, error) {
	if len(r) > 32 || len(s) > 32 {
		return nil, ErrInvalidSignature
	}
	if v >= RecoveryIDOffset {
		v -= RecoveryIDOffset
	}
	if v > 1 {
		return nil, ErrInvalidRecoveryID
	}
	sig := &Signature{RecoveryID: v}
	copy(sig.R[32-len(r):], r)
	copy(sig.S[32-len(s):], s)
	return sig, nil
}

func NewPrivateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// ParsePrivateKey accepts a 32-byte big-endian scalar in [1, N-1].
func ParsePrivateKey(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return secp256k1.NewPrivateKey(&k), nil
}

// PublicKey returns G·priv in 65-byte uncompressed form.
func PublicKey(priv []byte) ([]byte, error) {
	key, err := ParsePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return key.PubKey().SerializeUncompressed(), nil
}

// Address is the ledger account for an uncompressed public key: the last 20
// bytes of Keccak-256 over the 64 coordinate bytes.
func Address(pub []byte) ([]byte, error) {
	if len(pub) != PublicKeySize || pub[0] != secp256k1.PubKeyFormatUncompressed {
		return nil, fmt.Errorf("address: want %d-byte uncompressed key, got %d bytes", PublicKeySize, len(pub))
	}
	return hash.Keccak256(pub[1:])[12:], nil
}

// Sign produces a low-S signature over digest and determines its recovery id
// by trial reconstruction. Pairs for which neither id reproduces the signing
// key (r taken from an x coordinate >= N) are discarded and a new nonce is
// drawn.
func Sign(digest []byte, priv *secp256k1.PrivateKey) (*Signature, error) {
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}
	if priv == nil || priv.Key.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	pub := priv.PubKey().SerializeUncompressed()

	var e secp256k1.ModNScalar
	e.SetByteSlice(digest)

	for attempt := 0; attempt < MaxSignAttempts; attempt++ {
		r, s, err := signOnce(&e, &priv.Key)
		if err != nil {
			continue
		}

		id, ok := findRecoveryID(&r, &s, &e, pub)
		if !ok {
			continue
		}

		sig := &Signature{RecoveryID: id}
		r.PutBytes(&sig.R)
		s.PutBytes(&sig.S)
		return sig, nil
	}
	return nil, ErrSignFailed
}

func signOnce(e, d *secp256k1.ModNScalar) (r, s secp256k1.ModNScalar, err error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return r, s, err
	}
	defer k.Zero()

	var R secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k.Key, &R)
	R.ToAffine()

	// r = R.x mod N; an x >= N is reduced here and later fails recovery.
	r.SetBytes(R.X.Bytes())
	if r.IsZero() {
		return r, s, ErrInvalidSignature
	}

	// s = k^-1 (e + r·d)
	var kInv secp256k1.ModNScalar
	kInv.InverseValNonConst(&k.Key)
	s.Mul2(&r, d).Add(e).Mul(&kInv)
	if s.IsZero() {
		return r, s, ErrInvalidSignature
	}
	if s.IsOverHalfOrder() {
		s.Negate()
	}
	return r, s, nil
}

func findRecoveryID(r, s, e *secp256k1.ModNScalar, pub []byte) (byte, bool) {
	for id := byte(0); id <= 1; id++ {
		q, err := recoverPoint(r, s, id, e)
		if err != nil {
			continue
		}
		if bytes.Equal(q.SerializeUncompressed(), pub) {
			return id, true
		}
	}
	return 0, false
}

// RecoverPublicKey returns the uncompressed public key that produced
// (r, s) over digest with the given recovery id (0/1 or 27/28).
func RecoverPublicKey(r, s []byte, recoveryID byte, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}
	sig, err := ParseSignature(r, s, recoveryID)
	if err != nil {
		return nil, err
	}

	var rs, ss, e secp256k1.ModNScalar
	if overflow := rs.SetBytes(&sig.R); overflow != 0 {
		return nil, ErrInvalidSignature
	}
	if overflow := ss.SetBytes(&sig.S); overflow != 0 {
		return nil, ErrInvalidSignature
	}
	e.SetByteSlice(digest)

	q, err := recoverPoint(&rs, &ss, sig.RecoveryID, &e)
	if err != nil {
		return nil, err
	}
	return q.SerializeUncompressed(), nil
}

// RecoverAddress is RecoverPublicKey followed by Address.
func RecoverAddress(sig *Signature, digest []byte) ([]byte, error) {
	pub, err := RecoverPublicKey(sig.R[:], sig.S[:], sig.RecoveryID, digest)
	if err != nil {
		return nil, err
	}
	return Address(pub)
}

// recoverPoint computes Q = (-e·r⁻¹)·G + (s·r⁻¹)·R where R is the curve
// point with x = r and y parity = id. secp256k1 has cofactor 1, so every
// point that decompresses has order N and R·N is the point at infinity.
func recoverPoint(r, s *secp256k1.ModNScalar, id byte, e *secp256k1.ModNScalar) (*secp256k1.PublicKey, error) {
	if id > 1 {
		return nil, ErrInvalidRecoveryID
	}
	if r.IsZero() || s.IsZero() {
		return nil, ErrInvalidSignature
	}

	var fx, fy secp256k1.FieldVal
	rb := r.Bytes()
	fx.SetBytes(&rb)
	if !secp256k1.DecompressY(&fx, id == 1, &fy) {
		return nil, ErrPointNotOnCurve
	}
	var one secp256k1.FieldVal
	one.SetInt(1)
	R := secp256k1.MakeJacobianPoint(&fx, &fy, &one)

	var rInv, u1, u2 secp256k1.ModNScalar
	rInv.InverseValNonConst(r)
	u1.Mul2(e, &rInv).Negate()
	u2.Mul2(s, &rInv)

	var p1, p2, q secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&u1, &p1)
	secp256k1.ScalarMultNonConst(&u2, &R, &p2)
	secp256k1.AddNonConst(&p1, &p2, &q)
	if (q.X.IsZero() && q.Y.IsZero()) || q.Z.IsZero() {
		return nil, ErrPointAtInfinity
	}
	q.ToAffine()
	return secp256k1.NewPublicKey(&q.X, &q.Y), nil
}

// Verify checks sig against an uncompressed or compressed public key.
func Verify(pub, digest []byte, sig *Signature) bool {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if r.SetBytes(&sig.R) != 0 || s.SetBytes(&sig.S) != 0 {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(digest, key)
}
