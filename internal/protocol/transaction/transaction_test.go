package transaction

import (
	"encoding/hex"
	"math/big"
	"testing"

	"cosigner/internal/cryptographic/hash"
	"cosigner/internal/cryptographic/signature"
	"cosigner/internal/protocol/rlp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenTx(t *testing.T) *RawTransaction {
	t.Helper()
	tx, err := New(0, big.NewInt(0x186A0), big.NewInt(0x186A0), make([]byte, 20), big.NewInt(0), nil)
	require.NoError(t, err)
	return tx
}

func TestSigningDigestGolden(t *testing.T) {
	tx := goldenTx(t)
	zeroTo := hex.EncodeToString(make([]byte, 20))

	assert.Equal(t, "e080830186a0830186a094"+zeroTo+"8080",
		hex.EncodeToString(rlp.EncodeList(tx.list(signedFieldCount))))
	assert.Equal(t, "f3124b688f3e1bd2d3d72ab54931172ef583321443968e42302f6a50ae2c5a9b",
		hex.EncodeToString(tx.SigningDigest()))

	// the unsigned envelope carries three empty signature items
	assert.Equal(t, "e380830186a0830186a094"+zeroTo+"8080"+"808080", tx.Hex())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	to, _ := hex.DecodeString("7e5f4552091a69125d5dfcb7b8c2659029395bdf")
	tx, err := New(9, big.NewInt(20_000_000_000), big.NewInt(21000), to, big.NewInt(1_000_000_000_000_000_000), []byte{0xde, 0xad})
	require.NoError(t, err)

	got, err := FromHex("0x" + tx.Hex())
	require.NoError(t, err)
	assert.Equal(t, tx.Encode(), got.Encode())
	assert.Equal(t, tx.SigningDigest(), got.SigningDigest())
	assert.Equal(t, to, got.To)
	assert.Equal(t, []byte{9}, got.Nonce)
}

func TestSignAndRecoverSender(t *testing.T) {
	priv, err := signature.NewPrivateKey()
	require.NoError(t, err)
	want, err := signature.Address(priv.PubKey().SerializeUncompressed())
	require.NoError(t, err)

	tx := goldenTx(t)
	unsigned := tx.Hex()
	_, err = tx.Sign(priv)
	require.NoError(t, err)
	assert.True(t, tx.IsSigned())
	assert.NotEqual(t, unsigned, tx.Hex())
	assert.Contains(t, []byte{27, 28}, tx.SigV[0])

	parsed, err := FromHex(tx.Hex())
	require.NoError(t, err)
	sender, err := parsed.Sender()
	require.NoError(t, err)
	assert.Equal(t, want, sender)
}

func TestHashCoversSignature(t *testing.T) {
	priv, err := signature.NewPrivateKey()
	require.NoError(t, err)

	tx := goldenTx(t)
	unsigned := tx.Hash()
	assert.Equal(t, hash.Keccak256(tx.Encode()), unsigned)

	sig, err := tx.Sign(priv)
	require.NoError(t, err)
	assert.NotEqual(t, unsigned, tx.Hash())
	assert.Len(t, tx.Hash(), 32)
	assert.True(t, signature.Verify(priv.PubKey().SerializeUncompressed(), tx.SigningDigest(), sig))
}

func TestSenderUnsigned(t *testing.T) {
	_, err := goldenTx(t).Sender()
	assert.ErrorIs(t, err, ErrUnsigned)
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"item", rlp.EncodeItem([]byte("x")), ErrNotList},
		{"eight fields", rlp.EncodeList(rlp.List{rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}}), ErrFieldCount},
		{"nested field", rlp.EncodeList(rlp.List{rlp.List{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}, rlp.Item{}}), ErrNestedField},
		{"truncated", []byte{0xc9, 0x80}, rlp.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			var ce *CodecError
			require.ErrorAs(t, err, &ce)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := FromHex("zz")
	assert.ErrorIs(t, err, ErrInvalidHex)
}

func TestNewRejectsNegative(t *testing.T) {
	_, err := New(0, big.NewInt(-1), big.NewInt(1), nil, big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrNegativeValue)
}
