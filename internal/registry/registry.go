// Package registry implements the collector's agent_id -> public_key
// binding: first-seen registration and signed key rotation, as described by
// the agent registry component.
package registry

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
)

// ErrKeyConflict is returned by Register when agent_id is already bound to a
// different public key.
var ErrKeyConflict = errors.New("registry: agent_id bound to a different key")

// ErrUnauthorized is returned by Rotate when the rotation signature does not
// verify under the currently registered key.
var ErrUnauthorized = errors.New("registry: rotation signature invalid")

// ErrUnknownAgent is returned by Rotate and Lookup when agent_id has never
// been registered.
var ErrUnknownAgent = errors.New("registry: unknown agent_id")

// Registry binds agent_id to public_key inside the collector's database.
type Registry struct {
	db *sql.DB
}

// New wraps db for registry operations. The caller owns the agents table
// (created by the storage package's schema).
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Lookup returns the currently registered public key for agentID, or
// ErrUnknownAgent.
func (r *Registry) Lookup(ctx context.Context, agentID string) ([batch.PublicKeySize]byte, error) {
	var zero [batch.PublicKeySize]byte
	var pubHex string
	err := r.db.QueryRowContext(ctx, `SELECT public_key FROM agents WHERE agent_id = ?`, agentID).Scan(&pubHex)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrUnknownAgent
	}
	if err != nil {
		return zero, err
	}
	return batch.ParsePublicKey(pubHex)
}

// LookupTx is Lookup run inside an existing transaction, used by the
// admission pipeline so the key check shares the submission's atomicity.
func LookupTx(ctx context.Context, tx *sql.Tx, agentID string) ([batch.PublicKeySize]byte, error) {
	var zero [batch.PublicKeySize]byte
	var pubHex string
	err := tx.QueryRowContext(ctx, `SELECT public_key FROM agents WHERE agent_id = ?`, agentID).Scan(&pubHex)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrUnknownAgent
	}
	if err != nil {
		return zero, err
	}
	return batch.ParsePublicKey(pubHex)
}

// Register binds agent_id to public_key. If the binding already exists with
// the same key, it succeeds idempotently. If it exists with a different key,
// it returns ErrKeyConflict.
func (r *Registry) Register(ctx context.Context, agentID string, pub [batch.PublicKeySize]byte, createdAt int64) error {
	existing, err := r.Lookup(ctx, agentID)
	if err == nil {
		if existing == pub {
			return nil
		}
		return ErrKeyConflict
	}
	if !errors.Is(err, ErrUnknownAgent) {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO agents (agent_id, public_key, created_at) VALUES (?, ?, ?)`,
		agentID, hexPub(pub), createdAt)
	if err != nil {
		return fmt.Errorf("registry: insert: %w", err)
	}
	return nil
}

// rotationMessage reproduces the exact ASCII bytes signed by an agent
// requesting a key rotation: "rotate:" + agent_id + ":" + new_public_key_hex.
func rotationMessage(agentID, newPubHex string) []byte {
	return []byte("rotate:" + agentID + ":" + newPubHex)
}

// Rotate verifies authSig (over rotationMessage) under the currently
// registered key for agentID, and if it verifies, atomically replaces the
// stored public key with newPub. Past batches are unaffected: each stored row
// already carries the key that was current at admission time.
func (r *Registry) Rotate(ctx context.Context, agentID string, newPub [batch.PublicKeySize]byte, authSig [batch.SignatureSize]byte) error {
	current, err := r.Lookup(ctx, agentID)
	if err != nil {
		return err
	}

	msg := rotationMessage(agentID, hexPub(newPub))
	if !ed25519.Verify(current[:], msg, authSig[:]) {
		return ErrUnauthorized
	}

	res, err := r.db.ExecContext(ctx, `UPDATE agents SET public_key = ? WHERE agent_id = ? AND public_key = ?`,
		hexPub(newPub), agentID, hexPub(current))
	if err != nil {
		return fmt.Errorf("registry: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnauthorized
	}
	return nil
}

func hexPub(pub [batch.PublicKeySize]byte) string {
	return hex.EncodeToString(pub[:])
}

// Count returns the number of distinct registered agent_ids, for the
// collector's logagg_agents_registered gauge.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n)
	return n, err
}
