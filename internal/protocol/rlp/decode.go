package rlp

import (
	"errors"
	"fmt"
)

// MaxDepth bounds list nesting accepted by Decode.
const MaxDepth = 64

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrTruncated     = errors.New("declared length exceeds input")
	ErrTrailingBytes = errors.New("trailing bytes after node")
	ErrNonCanonical  = errors.New("non-canonical size information")
	ErrTooDeep       = errors.New("list nesting too deep")
	ErrTooLarge      = errors.New("declared length too large")
)

type (
	// DecodeError reports where in the input decoding failed.
	DecodeError struct {
		Offset int
		Err    error
	}
)

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rlp: at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses exactly one node spanning all of b.
func Decode(b []byte) (Node, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Offset: 0, Err: ErrEmptyInput}
	}
	n, next, err := decodeAt(b, 0, 0)
	if err != nil {
		return nil, err
	}
	if next != len(b) {
		return nil, &DecodeError{Offset: next, Err: ErrTrailingBytes}
	}
	return n, nil
}

// decodeAt parses the node starting at b[pos] and returns the offset after it.
func decodeAt(b []byte, pos, depth int) (Node, int, error) {
	if pos >= len(b) {
		return nil, pos, &DecodeError{Offset: pos, Err: ErrTruncated}
	}
	isList, start, size, err := readHeader(b, pos)
	if err != nil {
		return nil, pos, err
	}
	end := start + size
	if end > len(b) || end < start {
		return nil, pos, &DecodeError{Offset: pos, Err: ErrTruncated}
	}

	if !isList {
		item := make(Item, size)
		copy(item, b[start:end])
		return item, end, nil
	}

	if depth >= MaxDepth {
		return nil, pos, &DecodeError{Offset: pos, Err: ErrTooDeep}
	}
	list := List{}
	for cur := start; cur < end; {
		child, next, err := decodeAt(b[:end], cur, depth+1)
		if err != nil {
			return nil, pos, err
		}
		list = append(list, child)
		cur = next
	}
	return list, end, nil
}

// readHeader inspects the prefix byte at b[pos] and returns the node kind,
// payload offset and payload size.
func readHeader(b []byte, pos int) (isList bool, start, size int, err error) {
	prefix := b[pos]
	switch {
	case prefix < shortItemOffset:
		return false, pos, 1, nil

	case prefix <= longItemOffset:
		size = int(prefix - shortItemOffset)
		if size == 1 && pos+1 < len(b) && b[pos+1] < shortItemOffset {
			return false, 0, 0, &DecodeError{Offset: pos, Err: ErrNonCanonical}
		}
		return false, pos + 1, size, nil

	case prefix < shortListOffset:
		size, err = readLongSize(b, pos, int(prefix-longItemOffset))
		return false, pos + 1 + int(prefix-longItemOffset), size, err

	case prefix <= longListOffset:
		return true, pos + 1, int(prefix - shortListOffset), nil

	default:
		size, err = readLongSize(b, pos, int(prefix-longListOffset))
		return true, pos + 1 + int(prefix-longListOffset), size, err
	}
}

func readLongSize(b []byte, pos, lenOfLen int) (int, error) {
	if pos+1+lenOfLen > len(b) {
		return 0, &DecodeError{Offset: pos, Err: ErrTruncated}
	}
	lb := b[pos+1 : pos+1+lenOfLen]
	if lb[0] == 0 {
		return 0, &DecodeError{Offset: pos, Err: ErrNonCanonical}
	}
	if lenOfLen > 4 {
		return 0, &DecodeError{Offset: pos, Err: ErrTooLarge}
	}
	var size uint64
	for _, c := range lb {
		size = size<<8 | uint64(c)
	}
	if size <= maxShortLen {
		return 0, &DecodeError{Offset: pos, Err: ErrNonCanonical}
	}
	if size > uint64(len(b)) {
		return 0, &DecodeError{Offset: pos, Err: ErrTruncated}
	}
	return int(size), nil
}
