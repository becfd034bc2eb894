package securechannel

import (
	"errors"
	"fmt"
	"sync"
)

var ErrReplay = errors.New("nonce not greater than last accepted")

type (
	// NonceLedger keeps, per peer, the last nonce sent and the last nonce
	// accepted. Entries are created on first use and live only in memory.
	NonceLedger struct {
		mu    sync.Mutex
		peers map[string]*peerNonces
	}

	peerNonces struct {
		mu       sync.Mutex
		inbound  uint64
		outbound uint64
	}
)

func NewNonceLedger() *NonceLedger {
	return &NonceLedger{
		peers: make(map[string]*peerNonces),
	}
}

func (l *NonceLedger) entry(peer string) *peerNonces {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.peers[peer]
	if !ok {
		e = &peerNonces{}
		l.peers[peer] = e
	}
	return e
}

// Next returns the next outbound nonce for peer, starting at 1.
func (l *NonceLedger) Next(peer string) uint64 {
	e := l.entry(peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbound++
	return e.outbound
}

// Accept records nonce as the latest inbound value from peer if it is
// strictly greater than the previous one. The compare and the update happen
// under the peer's lock.
func (l *NonceLedger) Accept(peer string, nonce uint64) error {
	e := l.entry(peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if nonce <= e.inbound {
		return fmt.Errorf("%w: got %d, last %d", ErrReplay, nonce, e.inbound)
	}
	e.inbound = nonce
	return nil
}

func (l *NonceLedger) LastAccepted(peer string) uint64 {
	e := l.entry(peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbound
}
