package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cosigner/internal/model"
	"cosigner/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultTimeout = 1500 * time.Millisecond

var ErrNoReply = errors.New("no reply")

type (
	Client struct {
		dialer  *websocket.Dialer
		http    *http.Client
		timeout time.Duration
	}
)

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// BroadcastCommand sends cmd to server and returns the reply. Any failure,
// including the timeout, returns cmd itself so callers can tell that no
// peer answered.
func (c *Client) BroadcastCommand(ctx context.Context, server model.Server, cmd string) string {
	reply, err := c.Call(ctx, server, []byte(cmd))
	if err != nil {
		log.Debug("broadcast failed", zap.String("to", server.RPCAddress()), zap.Error(err))
		return cmd
	}
	return string(reply)
}

// Call performs one request/reply exchange on a fresh connection.
func (c *Client) Call(ctx context.Context, server model.Server, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := url.URL{
		Scheme: "ws",
		Host:   server.RPCAddress(),
		Path:   RPCPath,
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, err
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// FetchServers reads the roster a member publishes on ServersPath. addr is
// its host:rpcPort.
func (c *Client) FetchServers(ctx context.Context, addr string) ([]model.Server, error) {
	u := url.URL{
		Scheme: "http",
		Host:   addr,
		Path:   ServersPath,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch servers from %s: status %d", addr, resp.StatusCode)
	}
	var servers []model.Server
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, err
	}
	return servers, nil
}
