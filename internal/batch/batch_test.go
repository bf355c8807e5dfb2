package batch

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	_, priv := genKey(t)
	b := NewBatch(ZeroHash, 1, AgentIDFromPublicKey(priv.Public().(ed25519.PublicKey)), 1000, []string{"a", "b", "c", "d", "e"})

	require.NoError(t, Sign(b, priv))
	require.True(t, Verify(b))
}

func TestTamperDetection(t *testing.T) {
	_, priv := genKey(t)
	b := NewBatch(ZeroHash, 1, AgentIDFromPublicKey(priv.Public().(ed25519.PublicKey)), 1000, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, Sign(b, priv))
	require.True(t, Verify(b))

	tampered := b.Clone()
	tampered.Logs[0] = "mutated"
	require.False(t, Verify(tampered))

	tampered2 := b.Clone()
	tampered2.Seq = 2
	require.False(t, Verify(tampered2))

	tampered3 := b.Clone()
	tampered3.PrevHash[0] ^= 0xFF
	require.False(t, Verify(tampered3))
}

func TestDigestDeterminismAndOrderSensitivity(t *testing.T) {
	_, priv := genKey(t)
	agentID := AgentIDFromPublicKey(priv.Public().(ed25519.PublicKey))

	b1 := NewBatch(ZeroHash, 1, agentID, 1000, []string{"a", "b", "c", "d", "e"})
	b2 := NewBatch(ZeroHash, 1, agentID, 1000, []string{"a", "b", "c", "d", "e"})
	require.Equal(t, ComputeDigest(b1), ComputeDigest(b2))

	permuted := NewBatch(ZeroHash, 1, agentID, 1000, []string{"e", "d", "c", "b", "a"})
	require.NotEqual(t, ComputeDigest(b1), ComputeDigest(permuted))
}

func TestSigningOverwritesPriorSignature(t *testing.T) {
	_, priv1 := genKey(t)
	_, priv2 := genKey(t)
	agentID := AgentIDFromPublicKey(priv1.Public().(ed25519.PublicKey))

	b := NewBatch(ZeroHash, 1, agentID, 1000, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, Sign(b, priv1))
	firstSig := b.Signature

	require.NoError(t, Sign(b, priv2))
	require.NotEqual(t, firstSig, b.Signature)
	require.True(t, Verify(b))
}

func TestWireRoundTrip(t *testing.T) {
	_, priv := genKey(t)
	agentID := AgentIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	b := NewBatch(ZeroHash, 1, agentID, 1000, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, Sign(b, priv))

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded Batch
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, b.Seq, decoded.Seq)
	require.Equal(t, b.AgentID, decoded.AgentID)
	require.Equal(t, ComputeDigest(b), ComputeDigest(&decoded))
	require.True(t, Verify(&decoded))
}

func TestFromWireRejectsEmptyLogs(t *testing.T) {
	w := Wire{
		PrevHash:  HashString(ZeroHash),
		Logs:      nil,
		Timestamp: 1,
		AgentID:   "abc",
		Seq:       1,
		Signature: "00",
		PublicKey: "00",
	}
	_, err := FromWire(w)
	require.Error(t, err)
}
