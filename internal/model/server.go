package model

import (
	"net"
	"strconv"
)

type (
	// Server is a cluster member. ServerID is the hex uncompressed public key
	// of the member's identity and is the only key the roster is indexed by.
	Server struct {
		ServerID   string `json:"serverId"`
		Host       string `json:"host"`
		ListenPort int    `json:"listenPort"`
		RPCPort    int    `json:"rpcPort"`
		Originator bool   `json:"originator"`
		LastSeen   int64  `json:"lastSeen"` // unix millis
	}
)

// RPCAddress is the host:port of the member's request/reply socket.
func (s Server) RPCAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.RPCPort))
}
