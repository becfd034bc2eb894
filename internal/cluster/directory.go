// Package cluster keeps the roster of cosigner servers: this server's own
// identity plus every peer learned from discovery beacons and from
// Heartbeat/KnownServers exchanges.
package cluster

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cosigner/internal/cryptographic/dh"
	"cosigner/internal/model"
	"cosigner/internal/utils/log"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"
)

type (
	// Messenger delivers a command to one server and returns its reply.
	Messenger interface {
		Send(ctx context.Context, to model.Server, payload []byte) ([]byte, error)
	}

	// RosterStore keeps a snapshot of known peers across restarts.
	RosterStore interface {
		SaveRoster(ctx context.Context, servers []model.Server) error
		LoadRoster(ctx context.Context) ([]model.Server, error)
	}

	Directory struct {
		priv *secp256k1.PrivateKey

		// mu guards self and servers; it is never held across network I/O
		mu      sync.Mutex
		self    model.Server
		servers map[string]model.Server

		messenger Messenger
		store     RosterStore
		now       func() time.Time

		// pushes bounds KnownServers sends running behind heartbeat replies
		pushes chan struct{}
		pushWG sync.WaitGroup
	}
)

const maxPendingPushes = 4

// NewIdentity generates the per-process identity key. It is not persisted:
// a restarted server joins the cluster under a new ServerID.
func NewIdentity() (*secp256k1.PrivateKey, error) {
	priv, _, err := dh.NewKeyPair()
	return priv, err
}

func NewDirectory(priv *secp256k1.PrivateKey, host string, listenPort, rpcPort int) *Directory {
	d := &Directory{
		priv:    priv,
		servers: make(map[string]model.Server),
		now:     time.Now,
		pushes:  make(chan struct{}, maxPendingPushes),
	}
	d.self = model.Server{
		ServerID:   hex.EncodeToString(priv.PubKey().SerializeUncompressed()),
		Host:       host,
		ListenPort: listenPort,
		RPCPort:    rpcPort,
		Originator: true,
		LastSeen:   d.now().UnixMilli(),
	}
	return d
}

func (d *Directory) SetMessenger(m Messenger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messenger = m
}

func (d *Directory) SetRosterStore(s RosterStore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = s
}

func (d *Directory) Self() model.Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

func (d *Directory) PrivateKey() *secp256k1.PrivateKey {
	return d.priv
}

// Servers is the full roster, self included, ordered by ServerID.
func (d *Directory) Servers() []model.Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rosterLocked(true)
}

// Peers is the roster without self.
func (d *Directory) Peers() []model.Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rosterLocked(false)
}

func (d *Directory) rosterLocked(withSelf bool) []model.Server {
	out := make([]model.Server, 0, len(d.servers)+1)
	if withSelf {
		out = append(out, d.self)
	}
	for _, s := range d.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (d *Directory) Lookup(serverID string) (model.Server, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if serverID == d.self.ServerID {
		return d.self, true
	}
	s, ok := d.servers[serverID]
	return s, ok
}

// Register adds s as a non-originator peer, or refreshes LastSeen and the
// advertised address if it is already known. It reports whether s is new.
func (d *Directory) Register(s model.Server) bool {
	if s.ServerID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registerLocked(s)
}

func (d *Directory) registerLocked(s model.Server) bool {
	now := d.now().UnixMilli()
	if s.ServerID == d.self.ServerID {
		d.self.LastSeen = now
		return false
	}
	_, known := d.servers[s.ServerID]
	s.Originator = false
	s.LastSeen = now
	d.servers[s.ServerID] = s
	return !known
}

// Touch refreshes LastSeen of a known server.
func (d *Directory) Touch(serverID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now().UnixMilli()
	if serverID == d.self.ServerID {
		d.self.LastSeen = now
		return
	}
	if s, ok := d.servers[serverID]; ok {
		s.LastSeen = now
		d.servers[serverID] = s
	}
}

// HandleHeartbeat registers advertised servers and returns the roster after
// merging. Each newcomer is also sent the full roster as KnownServers so it
// converges without waiting for its own heartbeats; those sends run in the
// background and never delay the returned roster.
func (d *Directory) HandleHeartbeat(ctx context.Context, servers []model.Server) []model.Server {
	var newcomers []model.Server
	d.mu.Lock()
	for _, s := range servers {
		if s.ServerID == "" {
			continue
		}
		if d.registerLocked(s) {
			newcomers = append(newcomers, d.servers[s.ServerID])
		}
	}
	roster := d.rosterLocked(true)
	messenger := d.messenger
	d.mu.Unlock()

	if len(newcomers) == 0 {
		return roster
	}
	log.Info("new servers from heartbeat", zap.Int("count", len(newcomers)))
	d.persist(ctx)

	if messenger != nil {
		d.pushKnownServers(ctx, messenger, roster, newcomers)
	}
	return roster
}

// pushKnownServers sends roster to newcomers off the caller's path. When
// maxPendingPushes sends are already in flight the push is skipped; the
// newcomer still learns the roster from the heartbeat reply.
func (d *Directory) pushKnownServers(ctx context.Context, messenger Messenger, roster, newcomers []model.Server) {
	payload, err := json.Marshal(&model.ClusterCommand{
		CommandType: model.CommandKnownServers,
		Servers:     roster,
	})
	if err != nil {
		log.Error("marshal known servers failed", zap.Error(err))
		return
	}

	select {
	case d.pushes <- struct{}{}:
	default:
		log.Warn("known servers push skipped", zap.Int("newcomers", len(newcomers)))
		return
	}
	d.pushWG.Add(1)
	go func() {
		defer func() {
			<-d.pushes
			d.pushWG.Done()
		}()
		for _, s := range newcomers {
			if _, err := messenger.Send(ctx, s, payload); err != nil {
				log.Warn("send known servers failed", zap.String("to", s.RPCAddress()), zap.Error(err))
			}
		}
	}()
}

// Wait blocks until background KnownServers sends have finished.
func (d *Directory) Wait() {
	d.pushWG.Wait()
}

// HandleKnownServers merges a roster without replying, so two servers can
// never bounce rosters back and forth.
func (d *Directory) HandleKnownServers(ctx context.Context, servers []model.Server) {
	added := 0
	d.mu.Lock()
	for _, s := range servers {
		if s.ServerID == "" {
			continue
		}
		if d.registerLocked(s) {
			added++
		}
	}
	d.mu.Unlock()

	if added > 0 {
		log.Info("merged known servers", zap.Int("added", added))
		d.persist(ctx)
	}
}

// Greet sends Heartbeat{self} to one server.
func (d *Directory) Greet(ctx context.Context, to model.Server) {
	d.mu.Lock()
	messenger := d.messenger
	self := d.self
	d.mu.Unlock()
	if messenger == nil {
		return
	}

	payload, err := json.Marshal(&model.ClusterCommand{
		CommandType: model.CommandHeartbeat,
		Servers:     []model.Server{self},
	})
	if err != nil {
		log.Error("marshal heartbeat failed", zap.Error(err))
		return
	}
	reply, err := messenger.Send(ctx, to, payload)
	if err != nil {
		log.Debug("heartbeat failed", zap.String("to", to.RPCAddress()), zap.Error(err))
		return
	}

	// a heartbeat is answered with the peer's roster
	var known model.ClusterCommand
	if err := json.Unmarshal(reply, &known); err == nil && known.CommandType == model.CommandKnownServers {
		d.Touch(to.ServerID)
		d.HandleKnownServers(ctx, known.Servers)
	}
}

// RunHeartbeat greets every known peer each interval until ctx is done.
func (d *Directory) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range d.Peers() {
				d.Greet(ctx, p)
			}
		}
	}
}

// Restore loads the stored roster snapshot. LastSeen is reset to now.
func (d *Directory) Restore(ctx context.Context) error {
	d.mu.Lock()
	store := d.store
	d.mu.Unlock()
	if store == nil {
		return nil
	}

	servers, err := store.LoadRoster(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, s := range servers {
		if s.ServerID != "" {
			d.registerLocked(s)
		}
	}
	d.mu.Unlock()
	log.Info("restored roster snapshot", zap.Int("servers", len(servers)))
	return nil
}

func (d *Directory) persist(ctx context.Context) {
	d.mu.Lock()
	store := d.store
	peers := d.rosterLocked(false)
	d.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.SaveRoster(ctx, peers); err != nil {
		log.Warn("save roster snapshot failed", zap.Error(err))
	}
}
