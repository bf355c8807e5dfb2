package storage

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func signedBatch(t *testing.T, prev [batch.HashSize]byte, seq uint64, logs []string) (*batch.Batch, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agentID := batch.AgentIDFromPublicKey(pub)
	b := batch.NewBatch(prev, seq, agentID, uint64(time.Now().Unix()), logs)
	require.NoError(t, batch.Sign(b, priv))
	return b, priv
}

func insertBatch(t *testing.T, s *Store, b *batch.Batch) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	hash := batch.ComputeDigest(b)
	id, err := Insert(ctx, tx, b.AgentID, b.Seq, b.PrevHash, hash, b.Logs, b.Timestamp, b.Signature, b.PublicKey, time.Now(), "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestInsertAndByID(t *testing.T) {
	s := openTestStore(t)
	b, _ := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	id := insertBatch(t, s, b)

	row, err := s.ByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, b.AgentID, row.AgentID)
	require.Equal(t, b.Seq, row.Seq)
	require.Equal(t, batch.ComputeDigest(b), row.Hash)
	require.True(t, batch.Verify(row.ToBatch()))
}

func TestInsertRejectsDuplicateSeq(t *testing.T) {
	s := openTestStore(t)
	b1, priv := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	insertBatch(t, s, b1)

	// Same agent, same seq, different content: the BEFORE INSERT
	// continuation trigger aborts it before the unique index is reached.
	b2 := batch.NewBatch(batch.ZeroHash, 1, b1.AgentID, b1.Timestamp+1, []string{"x", "y", "z", "w", "q"})
	require.NoError(t, batch.Sign(b2, priv))

	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = Insert(ctx, tx, b2.AgentID, b2.Seq, b2.PrevHash, batch.ComputeDigest(b2), b2.Logs, b2.Timestamp, b2.Signature, b2.PublicKey, time.Now(), "127.0.0.1")
	require.Error(t, err)
}

func TestTriggerRejectsSeqGapAndPrevHashMismatch(t *testing.T) {
	s := openTestStore(t)
	b1, priv := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	insertBatch(t, s, b1)
	h1 := batch.ComputeDigest(b1)

	b2, _ := signedBatch(t, h1, 2, []string{"f", "g", "h", "i", "j"})
	b2.AgentID = b1.AgentID
	require.NoError(t, batch.Sign(b2, priv))
	insertBatch(t, s, b2)

	// seq gap: 4 instead of 3
	gapBatch := batch.NewBatch(batch.ComputeDigest(b2), 4, b1.AgentID, b2.Timestamp+1, []string{"k", "l", "m", "n", "o"})
	require.NoError(t, batch.Sign(gapBatch, priv))
	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = Insert(ctx, tx, gapBatch.AgentID, gapBatch.Seq, gapBatch.PrevHash, batch.ComputeDigest(gapBatch), gapBatch.Logs, gapBatch.Timestamp, gapBatch.Signature, gapBatch.PublicKey, time.Now(), "127.0.0.1")
	require.Error(t, err)
	tx.Rollback()

	// prev_hash mismatch at correct seq
	mismatchBatch := batch.NewBatch(batch.ZeroHash, 3, b1.AgentID, b2.Timestamp+2, []string{"p", "q", "r", "s", "t"})
	require.NoError(t, batch.Sign(mismatchBatch, priv))
	tx2, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = Insert(ctx, tx2, mismatchBatch.AgentID, mismatchBatch.Seq, mismatchBatch.PrevHash, batch.ComputeDigest(mismatchBatch), mismatchBatch.Logs, mismatchBatch.Timestamp, mismatchBatch.Signature, mismatchBatch.PublicKey, time.Now(), "127.0.0.1")
	require.Error(t, err)
	tx2.Rollback()
}

func TestAppendOnlyTriggersBlockUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	b, _ := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	id := insertBatch(t, s, b)

	_, err := s.DB().Exec(`UPDATE batches SET seq = 99 WHERE id = ?`, id)
	require.Error(t, err)

	_, err = s.DB().Exec(`DELETE FROM batches WHERE id = ?`, id)
	require.Error(t, err)
}

func TestCheckpointsAndListOrdering(t *testing.T) {
	s := openTestStore(t)
	b1, priv := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	insertBatch(t, s, b1)
	h1 := batch.ComputeDigest(b1)

	b2 := batch.NewBatch(h1, 2, b1.AgentID, b1.Timestamp+1, []string{"f", "g", "h", "i", "j"})
	require.NoError(t, batch.Sign(b2, priv))
	insertBatch(t, s, b2)

	cps, err := s.Checkpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, cps, 1)
	require.Equal(t, uint64(2), cps[0].LastSeq)
	require.Equal(t, batch.ComputeDigest(b2), cps[0].LastHash)
	require.EqualValues(t, 2, cps[0].Count)

	rows, err := s.List(context.Background(), ListFilter{AgentID: b1.AgentID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint64(1), rows[0].Seq)
	require.Equal(t, uint64(2), rows[1].Seq)
}

func TestExportOrderedByID(t *testing.T) {
	s := openTestStore(t)
	b1, priv := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	id1 := insertBatch(t, s, b1)
	h1 := batch.ComputeDigest(b1)
	b2 := batch.NewBatch(h1, 2, b1.AgentID, b1.Timestamp+1, []string{"f", "g", "h", "i", "j"})
	require.NoError(t, batch.Sign(b2, priv))
	insertBatch(t, s, b2)

	rows, err := s.Export(context.Background(), id1-1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].ID < rows[1].ID)
}

func TestExistsByHashDedup(t *testing.T) {
	s := openTestStore(t)
	b, _ := signedBatch(t, batch.ZeroHash, 1, []string{"a", "b", "c", "d", "e"})
	insertBatch(t, s, b)

	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	exists, err := ExistsByHash(ctx, tx, b.AgentID, batch.ComputeDigest(b))
	require.NoError(t, err)
	require.True(t, exists)

	missing, err := ExistsByHash(ctx, tx, b.AgentID, batch.ZeroHash)
	require.NoError(t, err)
	require.False(t, missing)
}

func TestCheckpointForNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CheckpointFor(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}
