package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"cosigner/internal/model"
	"cosigner/internal/protocol/securechannel"
)

type (
	// SecureMessenger sends every command inside an envelope sealed for the
	// recipient and opens the envelope that comes back.
	SecureMessenger struct {
		client  *Client
		channel *securechannel.Channel
	}
)

func NewSecureMessenger(client *Client, channel *securechannel.Channel) *SecureMessenger {
	return &SecureMessenger{
		client:  client,
		channel: channel,
	}
}

func (m *SecureMessenger) Send(ctx context.Context, to model.Server, payload []byte) ([]byte, error) {
	env, err := m.channel.Build(to, payload)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	reply, err := m.client.Call(ctx, to, raw)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, ErrNoReply
	}

	var sealed model.EncryptedCommand
	if err := json.Unmarshal(reply, &sealed); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReply, reply)
	}
	if sealed.Sender.ServerID != to.ServerID {
		return nil, fmt.Errorf("%w: reply sealed by another server", securechannel.ErrMalformedEnvelope)
	}
	return m.channel.Open(&sealed)
}

// Exchange is Send for string commands: it returns the request unchanged
// when no usable reply arrives.
func (m *SecureMessenger) Exchange(ctx context.Context, to model.Server, cmd string) string {
	reply, err := m.Send(ctx, to, []byte(cmd))
	if err != nil {
		return cmd
	}
	return string(reply)
}
