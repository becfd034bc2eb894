// Package transaction maps the nine-field ledger transaction onto RLP.
package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"cosigner/internal/cryptographic/hash"
	"cosigner/internal/cryptographic/signature"
	"cosigner/internal/protocol/rlp"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	FieldCount = 9

	// the signing digest covers nonce..data
	signedFieldCount = 6
)

var (
	ErrNotList       = errors.New("transaction is not an RLP list")
	ErrFieldCount    = errors.New("transaction must have exactly 9 fields")
	ErrNestedField   = errors.New("transaction field is a list")
	ErrInvalidHex    = errors.New("invalid transaction hex")
	ErrUnsigned      = errors.New("transaction carries no signature")
	ErrNegativeValue = errors.New("negative integer field")
)

type (
	// CodecError is returned for bytes that are not a well-formed transaction.
	CodecError struct {
		Err error
	}

	// RawTransaction holds each field as its RLP item bytes. Integers are
	// big-endian with leading zeros stripped.
	RawTransaction struct {
		Nonce    []byte
		GasPrice []byte
		GasLimit []byte
		To       []byte
		Value    []byte
		Data     []byte
		SigV     []byte
		SigR     []byte
		SigS     []byte
	}
)

func (e *CodecError) Error() string {
	return "transaction codec: " + e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// New builds an unsigned transaction from integer quantities.
func New(nonce uint64, gasPrice, gasLimit *big.Int, to []byte, value *big.Int, data []byte) (*RawTransaction, error) {
	for _, n := range []*big.Int{gasPrice, gasLimit, value} {
		if n != nil && n.Sign() < 0 {
			return nil, ErrNegativeValue
		}
	}
	return &RawTransaction{
		Nonce:    rlp.Uint(nonce),
		GasPrice: rlp.BigInt(gasPrice),
		GasLimit: rlp.BigInt(gasLimit),
		To:       append([]byte{}, to...),
		Value:    rlp.BigInt(value),
		Data:     append([]byte{}, data...),
	}, nil
}

// Fields returns the nine fields in wire order.
func (tx *RawTransaction) Fields() [FieldCount][]byte {
	return [FieldCount][]byte{
		tx.Nonce, tx.GasPrice, tx.GasLimit, tx.To, tx.Value, tx.Data,
		tx.SigV, tx.SigR, tx.SigS,
	}
}

func (tx *RawTransaction) list(n int) rlp.List {
	fields := tx.Fields()
	list := make(rlp.List, 0, n)
	for _, f := range fields[:n] {
		list = append(list, rlp.Item(f))
	}
	return list
}

// Encode returns the RLP list of all nine fields.
func (tx *RawTransaction) Encode() []byte {
	return rlp.EncodeList(tx.list(FieldCount))
}

// Hex is the raw transaction hex as exchanged between peers.
func (tx *RawTransaction) Hex() string {
	return hex.EncodeToString(tx.Encode())
}

// SigningDigest is Keccak-256 over the RLP list of the first six fields.
func (tx *RawTransaction) SigningDigest() []byte {
	return hash.Keccak256(rlp.EncodeList(tx.list(signedFieldCount)))
}

// Hash identifies the transaction including its signature.
func (tx *RawTransaction) Hash() []byte {
	return hash.Keccak256(tx.Encode())
}

func (tx *RawTransaction) IsSigned() bool {
	return len(tx.SigV) > 0 && len(tx.SigR) > 0 && len(tx.SigS) > 0
}

// Sign signs the digest with priv and stores V, R and S.
func (tx *RawTransaction) Sign(priv *secp256k1.PrivateKey) (*signature.Signature, error) {
	sig, err := signature.Sign(tx.SigningDigest(), priv)
	if err != nil {
		return nil, err
	}
	tx.SetSignature(sig)
	return sig, nil
}

func (tx *RawTransaction) SetSignature(sig *signature.Signature) {
	tx.SigV = []byte{sig.V()}
	tx.SigR = rlp.TrimLeadingZeros(append([]byte{}, sig.R[:]...))
	tx.SigS = rlp.TrimLeadingZeros(append([]byte{}, sig.S[:]...))
}

// Signature returns the stored V/R/S.
func (tx *RawTransaction) Signature() (*signature.Signature, error) {
	if !tx.IsSigned() || len(tx.SigV) != 1 {
		return nil, ErrUnsigned
	}
	return signature.ParseSignature(tx.SigR, tx.SigS, tx.SigV[0])
}

// Sender recovers the address that signed the transaction.
func (tx *RawTransaction) Sender() ([]byte, error) {
	sig, err := tx.Signature()
	if err != nil {
		return nil, err
	}
	return signature.RecoverAddress(sig, tx.SigningDigest())
}

// Decode parses a nine-item RLP list.
func Decode(b []byte) (*RawTransaction, error) {
	node, err := rlp.Decode(b)
	if err != nil {
		return nil, &CodecError{Err: err}
	}
	list, ok := node.(rlp.List)
	if !ok {
		return nil, &CodecError{Err: ErrNotList}
	}
	if len(list) != FieldCount {
		return nil, &CodecError{Err: fmt.Errorf("%w: got %d", ErrFieldCount, len(list))}
	}

	var f [FieldCount][]byte
	for i, n := range list {
		item, ok := n.(rlp.Item)
		if !ok {
			return nil, &CodecError{Err: fmt.Errorf("%w: field %d", ErrNestedField, i)}
		}
		f[i] = item
	}
	return &RawTransaction{
		Nonce: f[0], GasPrice: f[1], GasLimit: f[2], To: f[3], Value: f[4], Data: f[5],
		SigV: f[6], SigR: f[7], SigS: f[8],
	}, nil
}

// FromHex decodes transaction hex with or without a 0x prefix.
func FromHex(s string) (*RawTransaction, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &CodecError{Err: fmt.Errorf("%w: %v", ErrInvalidHex, err)}
	}
	return Decode(b)
}
