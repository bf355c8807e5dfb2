// Package storage implements the collector's append-only persistence layer:
// schema, triggers, and the CRUD/query operations the admission pipeline,
// registry, and query surface build on.
package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Store wraps a *sql.DB configured for SQLite's append-only, single-writer
// usage pattern described by the concurrency model: one writable connection
// so per-agent serialization falls out of SQLite's own write lock, backstopped
// by the unique (agent_id, seq) index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn, enables WAL
// journaling with fully-synchronous commits, applies the schema, and caps
// the connection pool at one writer.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dsn, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for components (admission pipeline,
// snapshot task) that need to run their own transactions or maintenance
// statements against the same connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Row is the stored representation of one admitted batch, as described by
// the data model: id is the monotonic storage identifier, hash is the
// digest recomputed by the collector, received_at is collector wall-clock
// time, source is the observed remote address.
type Row struct {
	ID         int64
	AgentID    string
	Seq        uint64
	PrevHash   [batch.HashSize]byte
	Hash       [batch.HashSize]byte
	Logs       []string
	Timestamp  uint64
	Signature  [batch.SignatureSize]byte
	PublicKey  [batch.PublicKeySize]byte
	ReceivedAt int64
	Source     string
}

// ToBatch reconstructs the signable Batch carried by a stored row, using the
// row's own hash as prev_hash is NOT implied — callers needing the batch for
// verification should use the row's PrevHash field directly, which ToBatch
// does.
func (r *Row) ToBatch() *batch.Batch {
	return &batch.Batch{
		PrevHash:  r.PrevHash,
		Logs:      append([]string(nil), r.Logs...),
		Timestamp: r.Timestamp,
		AgentID:   r.AgentID,
		Seq:       r.Seq,
		Signature: r.Signature,
		PublicKey: r.PublicKey,
	}
}

// Insert appends a new row inside the given transaction, returning the
// storage-assigned id. Any storage-layer unique-violation for (agent_id,
// seq) or (agent_id, hash) — or a trigger abort on chain mismatch — is
// surfaced as an error for the caller to classify.
func Insert(ctx context.Context, tx *sql.Tx, agentID string, seq uint64, prevHash, hash [batch.HashSize]byte, logs []string, timestamp uint64, sig [batch.SignatureSize]byte, pub [batch.PublicKeySize]byte, receivedAt time.Time, source string) (int64, error) {
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal logs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches (agent_id, seq, prev_hash, hash, logs, timestamp, signature, public_key, received_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, seq, batch.HashString(prevHash), batch.HashString(hash), string(logsJSON), timestamp,
		hexSig(sig), hexPub(pub), receivedAt.Unix(), source,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ExistsByHash reports whether a row with (agent_id, hash) already exists —
// the content-dedup check used for the idempotent re-send path.
func ExistsByHash(ctx context.Context, tx *sql.Tx, agentID string, hash [batch.HashSize]byte) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM batches WHERE agent_id = ? AND hash = ? LIMIT 1`, agentID, batch.HashString(hash)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LastForAgent returns the last (by seq) row for agentID within tx, or
// ErrNotFound if the agent has no rows yet.
func LastForAgent(ctx context.Context, tx *sql.Tx, agentID string) (*Row, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, agent_id, seq, prev_hash, hash, logs, timestamp, signature, public_key, received_at, source
		FROM batches WHERE agent_id = ? ORDER BY seq DESC LIMIT 1`, agentID)
	return scanRow(row)
}

func scanRow(row *sql.Row) (*Row, error) {
	var (
		r             Row
		prevHashHex   string
		hashHex       string
		logsJSON      string
		sigHex        string
		pubHex        string
	)
	err := row.Scan(&r.ID, &r.AgentID, &r.Seq, &prevHashHex, &hashHex, &logsJSON, &r.Timestamp, &sigHex, &pubHex, &r.ReceivedAt, &r.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fillRow(&r, prevHashHex, hashHex, logsJSON, sigHex, pubHex); err != nil {
		return nil, err
	}
	return &r, nil
}

func fillRow(r *Row, prevHashHex, hashHex, logsJSON, sigHex, pubHex string) error {
	prevHash, err := batch.ParseHash(prevHashHex)
	if err != nil {
		return err
	}
	hash, err := batch.ParseHash(hashHex)
	if err != nil {
		return err
	}
	var logs []string
	if err := json.Unmarshal([]byte(logsJSON), &logs); err != nil {
		return fmt.Errorf("storage: unmarshal logs: %w", err)
	}
	sig, err := batch.ParseSignature(sigHex)
	if err != nil {
		return err
	}
	pub, err := batch.ParsePublicKey(pubHex)
	if err != nil {
		return err
	}
	r.PrevHash = prevHash
	r.Hash = hash
	r.Logs = logs
	r.Signature = sig
	r.PublicKey = pub
	return nil
}

func hexSig(sig [batch.SignatureSize]byte) string { return hex.EncodeToString(sig[:]) }
func hexPub(pub [batch.PublicKeySize]byte) string { return hex.EncodeToString(pub[:]) }

// ListFilter holds the query parameters accepted by List.
type ListFilter struct {
	AgentID       string
	SinceSeq      *uint64
	SinceTimestamp *uint64
	UntilTimestamp *uint64
	LogSubstring  string
	Limit         int
	Offset        int
}

// List returns rows matching the filter, ordered by agent_id ascending then
// seq ascending, deterministic across clients.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Row, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, agent_id, seq, prev_hash, hash, logs, timestamp, signature, public_key, received_at, source FROM batches WHERE 1=1`)
	args := []any{}

	if f.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.SinceSeq != nil {
		sb.WriteString(" AND seq >= ?")
		args = append(args, *f.SinceSeq)
	}
	if f.SinceTimestamp != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *f.SinceTimestamp)
	}
	if f.UntilTimestamp != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, *f.UntilTimestamp)
	}
	if f.LogSubstring != "" {
		sb.WriteString(" AND logs LIKE ?")
		args = append(args, "%"+f.LogSubstring+"%")
	}
	sb.WriteString(" ORDER BY agent_id ASC, seq ASC")

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// ByID returns the row with the given storage id, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id int64) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, seq, prev_hash, hash, logs, timestamp, signature, public_key, received_at, source
		FROM batches WHERE id = ?`, id)
	return scanRow(row)
}

// Export returns rows with id > sinceID, ordered by id ascending — used to
// pull strictly-incremental slices for backup or replication.
func (s *Store) Export(ctx context.Context, sinceID int64, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, seq, prev_hash, hash, logs, timestamp, signature, public_key, received_at, source
		FROM batches WHERE id > ? ORDER BY id ASC LIMIT ?`, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			r           Row
			prevHashHex string
			hashHex     string
			logsJSON    string
			sigHex      string
			pubHex      string
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Seq, &prevHashHex, &hashHex, &logsJSON, &r.Timestamp, &sigHex, &pubHex, &r.ReceivedAt, &r.Source); err != nil {
			return nil, err
		}
		if err := fillRow(&r, prevHashHex, hashHex, logsJSON, sigHex, pubHex); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Checkpoint is the collector's view of (last_seq, last_hash) for an agent.
type Checkpoint struct {
	AgentID  string
	LastSeq  uint64
	LastHash [batch.HashSize]byte
	Count    int64
}

// Checkpoints returns, for each agent with at least one row, its last_seq,
// last_hash, and total count — the endpoint the agent consults on startup.
func (s *Store) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, MAX(seq) AS last_seq, COUNT(*) AS cnt
		FROM batches GROUP BY agent_id ORDER BY agent_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.AgentID, &cp.LastSeq, &cp.Count); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		var hashHex string
		err := s.db.QueryRowContext(ctx, `SELECT hash FROM batches WHERE agent_id = ? AND seq = ?`, out[i].AgentID, out[i].LastSeq).Scan(&hashHex)
		if err != nil {
			return nil, err
		}
		h, err := batch.ParseHash(hashHex)
		if err != nil {
			return nil, err
		}
		out[i].LastHash = h
	}
	return out, nil
}

// CheckpointFor returns the checkpoint for a single agent, or ErrNotFound if
// the agent has no stored batches.
func (s *Store) CheckpointFor(ctx context.Context, agentID string) (*Checkpoint, error) {
	var cp Checkpoint
	cp.AgentID = agentID
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0), COUNT(*) FROM batches WHERE agent_id = ?`, agentID).Scan(&cp.LastSeq, &cp.Count)
	if err != nil {
		return nil, err
	}
	if cp.Count == 0 {
		return nil, ErrNotFound
	}
	var hashHex string
	if err := s.db.QueryRowContext(ctx, `SELECT hash FROM batches WHERE agent_id = ? AND seq = ?`, agentID, cp.LastSeq).Scan(&hashHex); err != nil {
		return nil, err
	}
	h, err := batch.ParseHash(hashHex)
	if err != nil {
		return nil, err
	}
	cp.LastHash = h
	return &cp, nil
}
