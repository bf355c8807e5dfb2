// Package admission implements the collector's single-transaction submission
// pipeline: rate limit, auth, signature, digest, agent-key check, content
// dedup, chain check, insert, commit — in that order, aborting the whole
// transaction on the first failure.
package admission

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/ratelimit"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/registry"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/storage"
)

// Kind classifies why a submission was rejected, so the HTTP layer can map
// it to the right status code without re-deriving the reason.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindBadRequest   Kind = "bad_request"
	KindConflict     Kind = "conflict"
)

// RejectError is returned for every pipeline failure that is the submitter's
// fault (as opposed to a storage/transport error, which is returned bare).
type RejectError struct {
	Kind   Kind
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("admission: %s: %s", e.Kind, e.Reason)
}

func reject(kind Kind, reason string) error {
	return &RejectError{Kind: kind, Reason: reason}
}

// Config holds the pipeline's tunables, sourced from collector configuration.
type Config struct {
	RequireAgentRegistration bool
	BearerToken              string // empty disables the auth check
	RateLimitMax             int
	RateLimitWindow          time.Duration
}

// Pipeline runs submissions against a storage-backed database, sharing a
// rate limiter and registry across requests.
type Pipeline struct {
	db      *sql.DB
	limiter *ratelimit.Limiter
	reg     *registry.Registry
	cfg     Config
}

// New builds a Pipeline. db must be the same handle storage.Open returned,
// so the admission transaction and the append-only triggers share one
// single-writer connection pool.
func New(db *sql.DB, cfg Config) *Pipeline {
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	max := cfg.RateLimitMax
	if max <= 0 {
		max = 1 << 30 // effectively unlimited if unconfigured
	}
	return &Pipeline{
		db:      db,
		limiter: ratelimit.New(max, window),
		reg:     registry.New(db),
		cfg:     cfg,
	}
}

// Submission is one inbound request to /submit.
type Submission struct {
	Batch         *batch.Batch
	SourceAddr    string
	BearerToken   string
	HasBearer     bool
	ReceivedAt    time.Time
}

// Registry exposes the pipeline's registry so the HTTP layer can route
// /agents/register and /agents/rotate through the same binding state.
func (p *Pipeline) Registry() *registry.Registry { return p.reg }

// Admit runs the nine-step pipeline inside one transaction and returns the
// stored row on success.
func (p *Pipeline) Admit(ctx context.Context, sub Submission) (*storage.Row, error) {
	// 1. Rate limit, keyed by source address, outside the transaction: it is
	// pure in-memory state and must never block on I/O per the concurrency
	// model.
	if !p.limiter.Allow(sub.SourceAddr, sub.ReceivedAt) {
		return nil, reject(KindRateLimited, "rate limit exceeded for "+sub.SourceAddr)
	}

	// 2. Auth.
	if p.cfg.BearerToken != "" {
		if !sub.HasBearer || subtle.ConstantTimeCompare([]byte(sub.BearerToken), []byte(p.cfg.BearerToken)) != 1 {
			return nil, reject(KindUnauthorized, "missing or invalid bearer token")
		}
	}

	b := sub.Batch

	// 3. Signature.
	if !batch.Verify(b) {
		return nil, reject(KindBadRequest, "signature verification failed")
	}

	// 4. Digest, recomputed server-side; never trust a client-supplied hash.
	h := batch.ComputeDigest(b)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("admission: begin tx: %w", err)
	}
	defer tx.Rollback()

	// 5. Agent-key check.
	existingPub, err := registry.LookupTx(ctx, tx, b.AgentID)
	switch {
	case err == nil:
		if existingPub != b.PublicKey {
			return nil, reject(KindBadRequest, "public key does not match registered key for "+b.AgentID)
		}
	case errors.Is(err, registry.ErrUnknownAgent):
		if p.cfg.RequireAgentRegistration {
			return nil, reject(KindUnauthorized, "agent "+b.AgentID+" is not registered")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO agents (agent_id, public_key, created_at) VALUES (?, ?, ?)`,
			b.AgentID, batch.HashString(b.PublicKey), sub.ReceivedAt.Unix()); err != nil {
			return nil, fmt.Errorf("admission: auto-enroll: %w", err)
		}
	default:
		return nil, fmt.Errorf("admission: agent lookup: %w", err)
	}

	// 6. Content dedup — the idempotent re-send path. Checked before chain
	// validation: a retransmit of an already-admitted batch carries a seq
	// the chain check would otherwise flag as stale, but spec.md §7 wants
	// it reported as a duplicate (409), not a chain violation (400).
	exists, err := storage.ExistsByHash(ctx, tx, b.AgentID, h)
	if err != nil {
		return nil, fmt.Errorf("admission: dedup check: %w", err)
	}
	if exists {
		return nil, reject(KindConflict, "batch already admitted")
	}

	// 7. Chain check.
	last, err := storage.LastForAgent(ctx, tx, b.AgentID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if b.Seq != 1 || b.PrevHash != batch.ZeroHash {
			return nil, reject(KindBadRequest, "first batch for agent must have seq=1 and prev_hash=zero")
		}
	case err == nil:
		if b.Seq != last.Seq+1 {
			return nil, reject(KindBadRequest, fmt.Sprintf("seq must be %d, got %d", last.Seq+1, b.Seq))
		}
		if b.PrevHash != last.Hash {
			return nil, reject(KindBadRequest, "prev_hash does not match the last stored hash")
		}
	default:
		return nil, fmt.Errorf("admission: chain lookup: %w", err)
	}

	// 8. Insert.
	id, err := storage.Insert(ctx, tx, b.AgentID, b.Seq, b.PrevHash, h, b.Logs, b.Timestamp, b.Signature, b.PublicKey, sub.ReceivedAt, sub.SourceAddr)
	if err != nil {
		return nil, reject(KindConflict, "insert failed: "+err.Error())
	}

	// 9. Commit.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("admission: commit: %w", err)
	}

	row := &storage.Row{
		ID:         id,
		AgentID:    b.AgentID,
		Seq:        b.Seq,
		PrevHash:   b.PrevHash,
		Hash:       h,
		Logs:       append([]string(nil), b.Logs...),
		Timestamp:  b.Timestamp,
		Signature:  b.Signature,
		PublicKey:  b.PublicKey,
		ReceivedAt: sub.ReceivedAt.Unix(),
		Source:     sub.SourceAddr,
	}
	return row, nil
}
