// Package rlp implements the recursive length-prefix encoding used for
// ledger transactions: a node is either a byte string (Item) or an ordered
// list of nodes (List).
package rlp

import (
	"encoding/binary"
	"math/big"
)

const (
	shortItemOffset = 0x80
	longItemOffset  = 0xb7
	shortListOffset = 0xc0
	longListOffset  = 0xf7

	// payloads up to this length use the single-byte short form
	maxShortLen = 55
)

type (
	// Node is either an Item or a List.
	Node interface {
		isNode()
	}

	Item []byte

	List []Node
)

func (Item) isNode() {}
func (List) isNode() {}

// Encode serializes n. A nil Node has no encoding and panics like any
// other unknown type; use Item(nil) for the empty string.
func Encode(n Node) []byte {
	switch v := n.(type) {
	case Item:
		return EncodeItem(v)
	case List:
		return EncodeList(v)
	default:
		panic("rlp: unknown node type")
	}
}

// EncodeItem: a single byte below 0x80 is its own encoding; anything else
// gets a length header.
func EncodeItem(b []byte) []byte {
	if len(b) == 1 && b[0] < shortItemOffset {
		return []byte{b[0]}
	}
	out := appendHeader(make([]byte, 0, headerSize(len(b))+len(b)), shortItemOffset, longItemOffset, len(b))
	return append(out, b...)
}

// EncodeList concatenates the children's encodings behind a list header.
func EncodeList(nodes []Node) []byte {
	var payload []byte
	for _, n := range nodes {
		payload = append(payload, Encode(n)...)
	}
	out := appendHeader(make([]byte, 0, headerSize(len(payload))+len(payload)), shortListOffset, longListOffset, len(payload))
	return append(out, payload...)
}

func headerSize(n int) int {
	if n <= maxShortLen {
		return 1
	}
	return 1 + len(lengthBytes(uint64(n)))
}

func appendHeader(out []byte, shortOffset, longOffset byte, n int) []byte {
	if n <= maxShortLen {
		return append(out, shortOffset+byte(n))
	}
	lb := lengthBytes(uint64(n))
	out = append(out, longOffset+byte(len(lb)))
	return append(out, lb...)
}

// lengthBytes is n big-endian with leading zero bytes removed.
func lengthBytes(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return TrimLeadingZeros(buf[:])
}

// TrimLeadingZeros is the canonical integer form: zero encodes as empty.
func TrimLeadingZeros(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

// Uint returns the canonical item bytes of u.
func Uint(u uint64) Item {
	return Item(lengthBytes(u))
}

// BigInt returns the canonical item bytes of a non-negative n.
func BigInt(n *big.Int) Item {
	if n == nil {
		return Item{}
	}
	return Item(n.Bytes())
}
