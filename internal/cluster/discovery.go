package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	"cosigner/internal/model"
	"cosigner/internal/utils/log"

	"go.uber.org/zap"
)

const maxBeaconSize = 2048

type (
	// Beacon announces this server on a UDP broadcast address and listens
	// for the announcements of others. The transport is unauthenticated:
	// commands to a roster entry are encrypted to its ServerID, so only the
	// holder of that key can read them.
	Beacon struct {
		dir      *Directory
		bind     string
		target   string
		interval time.Duration
	}
)

// NewBeacon listens on bindHost:port and broadcasts to targetHost:port.
func NewBeacon(dir *Directory, bindHost, targetHost string, port int, interval time.Duration) *Beacon {
	return &Beacon{
		dir:      dir,
		bind:     net.JoinHostPort(bindHost, strconv.Itoa(port)),
		target:   net.JoinHostPort(targetHost, strconv.Itoa(port)),
		interval: interval,
	}
}

// Run broadcasts every interval and handles received beacons until ctx is
// done.
func (b *Beacon) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", b.bind)
	if err != nil {
		return err
	}
	target, err := net.ResolveUDPAddr("udp4", b.target)
	if err != nil {
		conn.Close()
		return err
	}
	log.Info("discovery beacon started", zap.String("bind", b.bind), zap.String("target", b.target))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go b.receive(ctx, conn)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		b.broadcast(conn, target)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Beacon) broadcast(conn net.PacketConn, target net.Addr) {
	self := b.dir.Self()
	self.Originator = true
	data, err := json.Marshal(&self)
	if err != nil {
		log.Error("marshal beacon failed", zap.Error(err))
		return
	}
	if _, err := conn.WriteTo(data, target); err != nil {
		log.Debug("beacon send failed", zap.Error(err))
	}
}

func (b *Beacon) receive(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, maxBeaconSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Debug("beacon read failed", zap.Error(err))
			continue
		}
		b.HandleBeacon(ctx, buf[:n], from)
	}
}

// HandleBeacon processes one datagram. Our own beacon echoed back refreshes
// self; any other valid record is registered, and a first sighting is
// greeted with a heartbeat so the newcomer learns the roster.
func (b *Beacon) HandleBeacon(ctx context.Context, data []byte, from net.Addr) {
	var s model.Server
	if err := json.Unmarshal(data, &s); err != nil || s.ServerID == "" || s.RPCPort == 0 {
		log.Debug("dropped malformed beacon", zap.Stringer("from", addrStringer{from}))
		return
	}

	if s.ServerID == b.dir.Self().ServerID {
		b.dir.Touch(s.ServerID)
		return
	}
	if b.dir.Register(s) {
		log.Info("discovered server", zap.String("rpc", s.RPCAddress()))
		known, _ := b.dir.Lookup(s.ServerID)
		b.dir.persist(ctx)
		b.dir.Greet(ctx, known)
	}
}

type addrStringer struct{ net.Addr }

func (a addrStringer) String() string {
	if a.Addr == nil {
		return ""
	}
	return a.Addr.String()
}
