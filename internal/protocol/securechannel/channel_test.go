package securechannel

import (
	"encoding/hex"
	"sync"
	"testing"

	"cosigner/internal/model"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIdentity struct {
	priv *secp256k1.PrivateKey
	self model.Server
}

func (i *testIdentity) Self() model.Server                 { return i.self }
func (i *testIdentity) PrivateKey() *secp256k1.PrivateKey { return i.priv }

func newIdentity(t *testing.T, host string) *testIdentity {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return &testIdentity{
		priv: priv,
		self: model.Server{
			ServerID: hex.EncodeToString(priv.PubKey().SerializeUncompressed()),
			Host:     host,
			RPCPort:  5000,
		},
	}
}

func TestBuildOpenRoundTrip(t *testing.T) {
	a, b := newIdentity(t, "a"), newIdentity(t, "b")
	ca, cb := New(a, nil), New(b, nil)

	env, err := ca.Build(b.self, []byte(`{"commandType":"Heartbeat"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.Nonce)
	assert.Equal(t, a.self.ServerID, env.Sender.ServerID)
	assert.NotContains(t, env.Payload, hex.EncodeToString([]byte("Heartbeat")))

	pt, err := cb.Open(env)
	require.NoError(t, err)
	assert.Equal(t, `{"commandType":"Heartbeat"}`, string(pt))
}

func TestNonceSequenceRejectsReplay(t *testing.T) {
	a, b := newIdentity(t, "a"), newIdentity(t, "b")
	ca, cb := New(a, nil), New(b, nil)

	first, err := ca.Build(b.self, []byte("one"))
	require.NoError(t, err)
	second, err := ca.Build(b.self, []byte("two"))
	require.NoError(t, err)

	envs := []*model.EncryptedCommand{first, second, first}
	assert.Equal(t, []uint64{1, 2, 1}, []uint64{envs[0].Nonce, envs[1].Nonce, envs[2].Nonce})

	_, err = cb.Open(envs[0])
	require.NoError(t, err)
	_, err = cb.Open(envs[1])
	require.NoError(t, err)
	_, err = cb.Open(envs[2])
	assert.ErrorIs(t, err, ErrReplay)

	assert.Equal(t, uint64(2), cb.Ledger().LastAccepted(a.self.ServerID))
}

func TestOpenRejectsTampering(t *testing.T) {
	a, b, c := newIdentity(t, "a"), newIdentity(t, "b"), newIdentity(t, "c")
	ca, cb, cc := New(a, nil), New(b, nil), New(c, nil)

	env, err := ca.Build(b.self, []byte("secret"))
	require.NoError(t, err)

	// wrong recipient cannot derive the key
	_, err = cc.Open(env)
	assert.Error(t, err)

	// claimed sender swapped
	forged := *env
	forged.Sender = c.self
	_, err = cb.Open(&forged)
	assert.Error(t, err)

	// outer nonce disagreeing with the sealed one
	bumped := *env
	bumped.Nonce = 7
	_, err = cb.Open(&bumped)
	assert.ErrorIs(t, err, ErrNonceMismatch)

	bad := *env
	bad.IV = "zz"
	_, err = cb.Open(&bad)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	// failures leave the ledger untouched
	assert.Equal(t, uint64(0), cb.Ledger().LastAccepted(a.self.ServerID))
	_, err = cb.Open(env)
	assert.NoError(t, err)
}

func TestLedgerConcurrentAccept(t *testing.T) {
	l := NewNonceLedger()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Accept("peer", 1) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, uint64(1), l.LastAccepted("peer"))
}

func TestLedgerOutboundPerPeer(t *testing.T) {
	l := NewNonceLedger()
	assert.Equal(t, uint64(1), l.Next("a"))
	assert.Equal(t, uint64(2), l.Next("a"))
	assert.Equal(t, uint64(1), l.Next("b"))
}
