package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"cosigner/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to      model.Server
	command model.ClusterCommand
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []sent
	reply func(to model.Server, cmd model.ClusterCommand) ([]byte, error)
}

func (m *fakeMessenger) Send(ctx context.Context, to model.Server, payload []byte) ([]byte, error) {
	var cmd model.ClusterCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sent = append(m.sent, sent{to: to, command: cmd})
	m.mu.Unlock()
	if m.reply != nil {
		return m.reply(to, cmd)
	}
	return []byte("{}"), nil
}

func (m *fakeMessenger) Sent() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

type memoryStore struct {
	servers []model.Server
	saves   int
}

func (s *memoryStore) SaveRoster(ctx context.Context, servers []model.Server) error {
	s.servers = servers
	s.saves++
	return nil
}

func (s *memoryStore) LoadRoster(ctx context.Context) ([]model.Server, error) {
	return s.servers, nil
}

func newTestDirectory(t *testing.T, host string) *Directory {
	t.Helper()
	priv, err := NewIdentity()
	require.NoError(t, err)
	return NewDirectory(priv, host, 5555, 5556)
}

func ids(servers []model.Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.ServerID)
	}
	return out
}

func sortedIDs(in ...string) []string {
	sort.Strings(in)
	return in
}

func TestNewDirectorySelf(t *testing.T) {
	d := newTestDirectory(t, "10.0.0.1")
	self := d.Self()
	assert.Len(t, self.ServerID, 130)
	assert.True(t, self.Originator)
	assert.Equal(t, "10.0.0.1:5556", self.RPCAddress())
	assert.Equal(t, []string{self.ServerID}, ids(d.Servers()))
	assert.Empty(t, d.Peers())
}

func TestHeartbeatMergesAndRepliesToNewcomer(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	m := &fakeMessenger{}
	a.SetMessenger(m)

	roster := a.HandleHeartbeat(context.Background(), []model.Server{b.Self()})
	a.Wait()

	want := sortedIDs(a.Self().ServerID, b.Self().ServerID)
	assert.Equal(t, want, ids(roster))
	assert.Equal(t, want, ids(a.Servers()))

	got := m.Sent()
	require.Len(t, got, 1)
	assert.Equal(t, b.Self().ServerID, got[0].to.ServerID)
	assert.Equal(t, model.CommandKnownServers, got[0].command.CommandType)
	assert.Equal(t, want, ids(got[0].command.Servers))

	peer, ok := a.Lookup(b.Self().ServerID)
	require.True(t, ok)
	assert.False(t, peer.Originator)
}

func TestHeartbeatReplyNotDelayedBySilentNewcomer(t *testing.T) {
	a := newTestDirectory(t, "a")
	release := make(chan struct{})
	m := &fakeMessenger{
		reply: func(model.Server, model.ClusterCommand) ([]byte, error) {
			<-release
			return nil, errors.New("timeout")
		},
	}
	a.SetMessenger(m)

	newcomers := []model.Server{
		newTestDirectory(t, "b").Self(),
		newTestDirectory(t, "c").Self(),
	}
	start := time.Now()
	roster := a.HandleHeartbeat(context.Background(), newcomers)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Len(t, roster, 3)

	close(release)
	a.Wait()
	assert.Len(t, m.Sent(), 2)
}

func TestHeartbeatPushesAreBounded(t *testing.T) {
	a := newTestDirectory(t, "a")
	release := make(chan struct{})
	m := &fakeMessenger{
		reply: func(model.Server, model.ClusterCommand) ([]byte, error) {
			<-release
			return []byte("{}"), nil
		},
	}
	a.SetMessenger(m)

	for i := 0; i < maxPendingPushes+3; i++ {
		a.HandleHeartbeat(context.Background(), []model.Server{newTestDirectory(t, "peer").Self()})
	}
	assert.Len(t, a.pushes, maxPendingPushes)

	close(release)
	a.Wait()
	assert.Len(t, m.Sent(), maxPendingPushes)
	assert.Len(t, a.Servers(), maxPendingPushes+4)
}

func TestHeartbeatFromKnownServerOnlyRefreshes(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	m := &fakeMessenger{}
	a.SetMessenger(m)

	clock := time.UnixMilli(1_000)
	a.now = func() time.Time { return clock }
	a.HandleHeartbeat(context.Background(), []model.Server{b.Self()})

	clock = time.UnixMilli(2_000)
	a.HandleHeartbeat(context.Background(), []model.Server{b.Self(), a.Self()})
	a.Wait()

	assert.Len(t, m.Sent(), 1)
	peer, _ := a.Lookup(b.Self().ServerID)
	assert.Equal(t, int64(2_000), peer.LastSeen)
	assert.Equal(t, int64(2_000), a.Self().LastSeen)
	assert.Len(t, a.Servers(), 2)
}

func TestKnownServersMergesWithoutReply(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	c := newTestDirectory(t, "c")
	m := &fakeMessenger{}
	a.SetMessenger(m)

	a.HandleKnownServers(context.Background(), []model.Server{b.Self(), c.Self(), a.Self(), {}})

	assert.Len(t, a.Servers(), 3)
	assert.Empty(t, m.Sent())
}

func TestRosterKeyedByServerID(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")

	moved := b.Self()
	assert.True(t, a.Register(moved))
	moved.Host = "b-rebound"
	moved.RPCPort = 7000
	assert.False(t, a.Register(moved))

	peers := a.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "b-rebound", peers[0].Host)
	assert.Equal(t, 7000, peers[0].RPCPort)
}

func TestGreetMergesReply(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	c := newTestDirectory(t, "c")
	m := &fakeMessenger{
		reply: func(to model.Server, cmd model.ClusterCommand) ([]byte, error) {
			return json.Marshal(&model.ClusterCommand{
				CommandType: model.CommandKnownServers,
				Servers:     []model.Server{b.Self(), c.Self()},
			})
		},
	}
	a.SetMessenger(m)
	a.Register(b.Self())

	a.Greet(context.Background(), b.Self())

	got := m.Sent()
	require.Len(t, got, 1)
	assert.Equal(t, model.CommandHeartbeat, got[0].command.CommandType)
	assert.Equal(t, []string{a.Self().ServerID}, ids(got[0].command.Servers))
	assert.Len(t, a.Servers(), 3)
}

func TestGreetIgnoresFailure(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	a.SetMessenger(&fakeMessenger{
		reply: func(model.Server, model.ClusterCommand) ([]byte, error) {
			return nil, errors.New("timeout")
		},
	})
	a.Register(b.Self())
	a.Greet(context.Background(), b.Self())
	assert.Len(t, a.Servers(), 2)
}

func TestRosterSnapshot(t *testing.T) {
	store := &memoryStore{}
	a := newTestDirectory(t, "a")
	a.SetRosterStore(store)
	b := newTestDirectory(t, "b")

	a.HandleKnownServers(context.Background(), []model.Server{b.Self()})
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []string{b.Self().ServerID}, ids(store.servers))

	restarted := newTestDirectory(t, "a")
	restarted.SetRosterStore(store)
	require.NoError(t, restarted.Restore(context.Background()))
	assert.Equal(t, []string{b.Self().ServerID}, ids(restarted.Peers()))
}

func TestRunHeartbeatStopsOnCancel(t *testing.T) {
	a := newTestDirectory(t, "a")
	b := newTestDirectory(t, "b")
	m := &fakeMessenger{}
	a.SetMessenger(m)
	a.Register(b.Self())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunHeartbeat(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(m.Sent()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}
