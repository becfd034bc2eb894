// Package securechannel encrypts commands end to end between two cluster
// members. The symmetric key is never sent: each side derives it from ECDH
// between its own identity key and the other side's ServerID. A per-peer
// strictly increasing nonce rejects replayed ciphertext.
package securechannel

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"cosigner/internal/cryptographic/dh"
	"cosigner/internal/cryptographic/encryption"
	"cosigner/internal/cryptographic/kdf"
	"cosigner/internal/model"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var channelInfo = []byte("cosigner/securechannel")

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrNonceMismatch     = errors.New("envelope nonce differs from authenticated nonce")
)

type (
	// Identity is this member's long-term key and advertised record.
	Identity interface {
		Self() model.Server
		PrivateKey() *secp256k1.PrivateKey
	}

	Channel struct {
		identity Identity
		ledger   *NonceLedger
	}
)

func New(identity Identity, ledger *NonceLedger) *Channel {
	if ledger == nil {
		ledger = NewNonceLedger()
	}
	return &Channel{
		identity: identity,
		ledger:   ledger,
	}
}

func (c *Channel) Ledger() *NonceLedger {
	return c.ledger
}

// Build encrypts plaintext for recipient with the next outbound nonce.
func (c *Channel) Build(recipient model.Server, plaintext []byte) (*model.EncryptedCommand, error) {
	key, err := c.sharedKey(recipient.ServerID)
	if err != nil {
		return nil, err
	}
	iv, err := encryption.NewIV()
	if err != nil {
		return nil, err
	}

	self := c.identity.Self()
	nonce := c.ledger.Next(recipient.ServerID)
	inner, err := json.Marshal(&model.DecryptedPayload{
		Nonce:   nonce,
		Payload: string(plaintext),
	})
	if err != nil {
		return nil, err
	}

	ct, err := encryption.AEADEncrypt(key, iv, inner, []byte(self.ServerID))
	if err != nil {
		return nil, err
	}
	return &model.EncryptedCommand{
		Sender:  self,
		Payload: hex.EncodeToString(ct),
		IV:      hex.EncodeToString(iv),
		Nonce:   nonce,
	}, nil
}

// Open decrypts an envelope addressed to this member. ErrReplay leaves the
// ledger unchanged.
func (c *Channel) Open(env *model.EncryptedCommand) ([]byte, error) {
	if env == nil || env.Sender.ServerID == "" {
		return nil, ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}

	key, err := c.sharedKey(env.Sender.ServerID)
	if err != nil {
		return nil, err
	}
	inner, err := encryption.AEADDecrypt(key, iv, ct, []byte(env.Sender.ServerID))
	if err != nil {
		return nil, err
	}

	var payload model.DecryptedPayload
	if err := json.Unmarshal(inner, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Nonce != 0 && env.Nonce != payload.Nonce {
		return nil, ErrNonceMismatch
	}
	if err := c.ledger.Accept(env.Sender.ServerID, payload.Nonce); err != nil {
		return nil, err
	}
	return []byte(payload.Payload), nil
}

func (c *Channel) sharedKey(peerID string) ([]byte, error) {
	pub, err := hex.DecodeString(peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: server id: %v", ErrMalformedEnvelope, err)
	}
	secret, err := dh.SharedSecret(c.identity.PrivateKey(), pub)
	if err != nil {
		return nil, err
	}
	return kdf.ChannelKey(secret, channelInfo)
}
