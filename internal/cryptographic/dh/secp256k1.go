package dh

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Generate a new secp256k1 key pair; pub is the 65-byte uncompressed point.
func NewKeyPair() (priv *secp256k1.PrivateKey, pub []byte, err error) {
	priv, err = secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return priv, priv.PubKey().SerializeUncompressed(), nil
}

// SharedSecret performs ECDH: the x coordinate of priv * pub.
func SharedSecret(priv *secp256k1.PrivateKey, pub []byte) ([]byte, error) {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	return secp256k1.GenerateSharedSecret(priv, key), nil
}
