package registry

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/storage"
)

func openTestRegistry(t *testing.T) (*Registry, *storage.Store) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s.DB()), s
}

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, [batch.PublicKeySize]byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var arr [batch.PublicKeySize]byte
	copy(arr[:], pub)
	return pub, priv, arr
}

func TestRegisterThenLookup(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, _, pubArr := genKey(t)
	agentID := batch.AgentIDFromPublicKey(pubArr[:])

	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))

	got, err := r.Lookup(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, pubArr, got)
}

func TestRegisterIsIdempotentForSameKey(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, _, pubArr := genKey(t)
	agentID := batch.AgentIDFromPublicKey(pubArr[:])

	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))
	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))
}

func TestRegisterRejectsConflictingKey(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, _, pubArr := genKey(t)
	agentID := batch.AgentIDFromPublicKey(pubArr[:])
	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))

	_, _, otherPub := genKey(t)
	err := r.Register(context.Background(), agentID, otherPub, time.Now().Unix())
	require.ErrorIs(t, err, ErrKeyConflict)
}

func TestRotateWithValidSignatureSucceeds(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, priv, pubArr := genKey(t)
	agentID := batch.AgentIDFromPublicKey(pubArr[:])
	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))

	_, _, newPub := genKey(t)
	msg := rotationMessage(agentID, hexPub(newPub))
	sigBytes := ed25519.Sign(priv, msg)
	var sig [batch.SignatureSize]byte
	copy(sig[:], sigBytes)

	require.NoError(t, r.Rotate(context.Background(), agentID, newPub, sig))

	got, err := r.Lookup(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, newPub, got)
}

func TestRotateWithBadSignatureRejected(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, _, pubArr := genKey(t)
	agentID := batch.AgentIDFromPublicKey(pubArr[:])
	require.NoError(t, r.Register(context.Background(), agentID, pubArr, time.Now().Unix()))

	_, _, newPub := genKey(t)
	var badSig [batch.SignatureSize]byte
	err := r.Rotate(context.Background(), agentID, newPub, badSig)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRotateUnknownAgentRejected(t *testing.T) {
	r, _ := openTestRegistry(t)
	_, _, newPub := genKey(t)
	var sig [batch.SignatureSize]byte
	err := r.Rotate(context.Background(), "nobody", newPub, sig)
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestCountReflectsDistinctAgents(t *testing.T) {
	r, _ := openTestRegistry(t)
	n, err := r.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	_, _, pubA := genKey(t)
	agentA := batch.AgentIDFromPublicKey(pubA[:])
	require.NoError(t, r.Register(context.Background(), agentA, pubA, time.Now().Unix()))

	_, _, pubB := genKey(t)
	agentB := batch.AgentIDFromPublicKey(pubB[:])
	require.NoError(t, r.Register(context.Background(), agentB, pubB, time.Now().Unix()))

	// Re-registering the same agent with the same key must not double-count.
	require.NoError(t, r.Register(context.Background(), agentA, pubA, time.Now().Unix()))

	n, err = r.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
