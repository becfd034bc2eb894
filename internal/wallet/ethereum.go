// Package wallet holds the currency collaborators the SIGN command calls.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"cosigner/internal/cryptographic/keyderivation"
	"cosigner/internal/cryptographic/signature"
	"cosigner/internal/model"
	"cosigner/internal/protocol/transaction"
	"cosigner/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const CurrencyETH = "ETH"

var ErrEmptyUserKey = errors.New("user key required")

type (
	AccountStore interface {
		GetByAddress(ctx context.Context, currency, address string) (*model.Account, error)
		Create(ctx context.Context, account *model.Account) (primitive.ObjectID, error)
	}

	// Ethereum signs nine-field transactions with keys re-derived from the
	// user key, this server's secret and the account's stream position.
	Ethereum struct {
		accounts     AccountStore
		serverSecret []byte
	}
)

func NewEthereum(accounts AccountStore, serverSecret []byte) *Ethereum {
	return &Ethereum{
		accounts:     accounts,
		serverSecret: serverSecret,
	}
}

func (w *Ethereum) Currency() string {
	return CurrencyETH
}

// NormalizeAddress lowercases and strips a 0x prefix.
func NormalizeAddress(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	return strings.TrimPrefix(a, "0x")
}

// CreateAccount derives the address at position skip for userKey and
// records it so later SIGN requests for that address can be served.
func (w *Ethereum) CreateAccount(ctx context.Context, userKey string, skip int) (*model.Account, error) {
	if userKey == "" {
		return nil, ErrEmptyUserKey
	}
	address, err := w.deriveAddress(userKey, skip)
	if err != nil {
		return nil, err
	}
	account := &model.Account{
		Address:  address,
		Currency: CurrencyETH,
		Skip:     skip,
	}
	if _, err := w.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

func (w *Ethereum) deriveAddress(userKey string, skip int) (string, error) {
	priv, err := keyderivation.Derive([]byte(userKey), w.serverSecret, skip)
	if err != nil {
		return "", err
	}
	addr, err := signature.Address(priv.PubKey().SerializeUncompressed())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(addr), nil
}

// SignTransaction signs txHex with the key behind address. When this server
// does not hold that key the input is returned unchanged; only malformed
// transactions produce an error.
func (w *Ethereum) SignTransaction(ctx context.Context, txHex, address, userKey string) (string, error) {
	tx, err := transaction.FromHex(txHex)
	if err != nil {
		return txHex, err
	}

	address = NormalizeAddress(address)
	account, err := w.accounts.GetByAddress(ctx, CurrencyETH, address)
	if err != nil {
		return txHex, fmt.Errorf("lookup account: %w", err)
	}
	if account == nil || userKey == "" {
		log.Debug("no key for address", zap.String("address", address))
		return txHex, nil
	}

	priv, err := keyderivation.Derive([]byte(userKey), w.serverSecret, account.Skip)
	if err != nil {
		return txHex, err
	}
	derived, err := signature.Address(priv.PubKey().SerializeUncompressed())
	if err != nil {
		return txHex, err
	}
	if hex.EncodeToString(derived) != address {
		log.Warn("user key does not derive address", zap.String("address", address))
		return txHex, nil
	}

	sig, err := tx.Sign(priv)
	if err != nil {
		return txHex, err
	}
	if !signature.Verify(priv.PubKey().SerializeUncompressed(), tx.SigningDigest(), sig) {
		return txHex, signature.ErrInvalidSignature
	}
	log.Info("signed transaction", zap.String("address", address), zap.String("hash", hex.EncodeToString(tx.Hash())))
	return tx.Hex(), nil
}
