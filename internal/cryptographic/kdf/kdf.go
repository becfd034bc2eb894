package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer from HKDF-SHA256(secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// ChannelKey derives a 32-byte symmetric key from an ECDH output.
func ChannelKey(sharedSecret, info []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := HKDF(sharedSecret, nil, info, key); err != nil {
		return nil, err
	}
	return key, nil
}
