// Package router decodes inbound wire commands and dispatches them to the
// cluster directory or to a currency wallet.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cosigner/internal/model"
	"cosigner/internal/protocol/securechannel"
	"cosigner/internal/utils/log"

	"go.uber.org/zap"
)

type (
	State int

	// Wallet is the currency collaborator. It returns txHex unchanged when
	// it does not hold the key for address.
	Wallet interface {
		SignTransaction(ctx context.Context, txHex, address, userKey string) (string, error)
	}

	Cluster interface {
		HandleHeartbeat(ctx context.Context, servers []model.Server) []model.Server
		HandleKnownServers(ctx context.Context, servers []model.Server)
		Touch(serverID string)
	}

	Channel interface {
		Build(recipient model.Server, plaintext []byte) (*model.EncryptedCommand, error)
		Open(env *model.EncryptedCommand) ([]byte, error)
	}

	Router struct {
		cluster Cluster
		channel Channel
		wallets map[string]Wallet
	}
)

const (
	StateIdle State = iota
	StateDecoding
	StateDispatched
	StateReplied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateDispatched:
		return "dispatched"
	case StateReplied:
		return "replied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func New(cluster Cluster, channel Channel) *Router {
	return &Router{
		cluster: cluster,
		channel: channel,
		wallets: make(map[string]Wallet),
	}
}

// RegisterWallet must be called before the router starts serving.
func (r *Router) RegisterWallet(currency string, w Wallet) {
	r.wallets[currency] = w
}

// Handle returns the reply for one inbound message. It never returns nil
// and never panics.
func (r *Router) Handle(ctx context.Context, raw []byte) (reply []byte) {
	state := StateDecoding
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command handling panicked", zap.Stringer("state", state), zap.Any("panic", rec))
			reply = []byte(model.ReplyError)
		}
		if reply == nil {
			reply = []byte{}
		}
		log.Debug("command done", zap.Stringer("state", StateReplied), zap.Int("replyBytes", len(reply)))
	}()

	if env, ok := parseEncrypted(raw); ok {
		state = StateDispatched
		return r.handleEncrypted(ctx, env)
	}
	return r.dispatch(ctx, raw, &state)
}

func (r *Router) dispatch(ctx context.Context, raw []byte, state *State) []byte {
	if cmd, ok := parseCluster(raw); ok {
		*state = StateDispatched
		return r.handleCluster(ctx, cmd)
	}
	if cmd, ok := parseCurrency(raw); ok {
		*state = StateDispatched
		return r.handleSign(ctx, cmd)
	}
	log.Debug("no parser matched command", zap.Int("bytes", len(raw)))
	return []byte(model.ReplyInvalidFormat)
}

func (r *Router) handleEncrypted(ctx context.Context, env *model.EncryptedCommand) []byte {
	if r.channel == nil {
		return []byte(model.ReplyInvalidFormat)
	}
	plaintext, err := r.channel.Open(env)
	if errors.Is(err, securechannel.ErrReplay) {
		log.Warn("dropped replayed command", zap.String("sender", env.Sender.RPCAddress()), zap.Error(err))
		return []byte{}
	}
	if err != nil {
		log.Warn("open envelope failed", zap.String("sender", env.Sender.RPCAddress()), zap.Error(err))
		return []byte(model.ReplyError)
	}
	r.cluster.Touch(env.Sender.ServerID)

	state := StateDecoding
	inner := r.dispatch(ctx, plaintext, &state)

	sealed, err := r.channel.Build(env.Sender, inner)
	if err != nil {
		log.Error("seal reply failed", zap.Error(err))
		return []byte(model.ReplyError)
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return []byte(model.ReplyError)
	}
	return out
}

func (r *Router) handleCluster(ctx context.Context, cmd *model.ClusterCommand) []byte {
	switch cmd.CommandType {
	case model.CommandHeartbeat:
		roster := r.cluster.HandleHeartbeat(ctx, cmd.Servers)
		out, err := json.Marshal(&model.ClusterCommand{
			CommandType: model.CommandKnownServers,
			Servers:     roster,
		})
		if err != nil {
			return []byte(model.ReplyError)
		}
		return out
	case model.CommandKnownServers:
		r.cluster.HandleKnownServers(ctx, cmd.Servers)
		return []byte{}
	}
	return []byte(model.ReplyInvalidFormat)
}

// handleSign asks the wallet to sign for every listed account and writes
// the result back into the parameters. Accounts this server holds no key
// for leave the transaction untouched.
func (r *Router) handleSign(ctx context.Context, cmd *model.CurrencyCommand) []byte {
	params := cmd.CurrencyParameters
	wallet, ok := r.wallets[params.Currency]
	if !ok {
		log.Warn("no wallet for currency", zap.String("currency", params.Currency))
	} else {
		tx := params.TransactionData
		for _, address := range params.Account {
			signed, err := wallet.SignTransaction(ctx, tx, address, params.UserKey)
			if err != nil {
				log.Warn("sign transaction failed", zap.String("address", address), zap.Error(err))
				continue
			}
			tx = signed
		}
		params.TransactionData = tx
	}

	out, err := json.Marshal(cmd)
	if err != nil {
		return []byte(model.ReplyError)
	}
	return out
}

func parseEncrypted(raw []byte) (*model.EncryptedCommand, bool) {
	var env model.EncryptedCommand
	if !strictUnmarshal(raw, &env) {
		return nil, false
	}
	if env.Sender.ServerID == "" || env.Payload == "" || env.IV == "" {
		return nil, false
	}
	return &env, true
}

func parseCluster(raw []byte) (*model.ClusterCommand, bool) {
	var cmd model.ClusterCommand
	if !strictUnmarshal(raw, &cmd) || !cmd.CommandType.IsCluster() {
		return nil, false
	}
	return &cmd, true
}

func parseCurrency(raw []byte) (*model.CurrencyCommand, bool) {
	var cmd model.CurrencyCommand
	if !strictUnmarshal(raw, &cmd) || cmd.CommandType != model.CommandSign || cmd.CurrencyParameters == nil {
		return nil, false
	}
	return &cmd, true
}

// strictUnmarshal accepts only a single JSON object whose keys all belong
// to v, so one command shape is never mistaken for another.
func strictUnmarshal(raw []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false
	}
	return !dec.More()
}
