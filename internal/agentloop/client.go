// Package agentloop implements the agent's producer loop: tail a log file,
// buffer lines into batches, sign and deliver them, and reconcile with the
// collector's checkpoint on startup — all as a single-threaded cooperative
// task with at most one in-flight batch, per the concurrency model.
package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

// ErrConflict is returned by Submit when the collector reports 409: the
// batch was already admitted (same (agent_id, seq) or (agent_id, hash)).
// Per spec.md §7 the agent treats this as success and advances local state
// the same way a 2xx response would.
var ErrConflict = fmt.Errorf("agentloop: batch already admitted (409)")

// Client talks to the collector's HTTP surface, grounded on the same
// base-URL + http.Client + zerolog.Logger shape used for the collector-side
// polling client elsewhere in this codebase.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// NewClient builds a Client against the collector at base.
func NewClient(base string, log zerolog.Logger) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  logger.WithModule(log, "agentloop"),
	}
}

// submitResponse mirrors the collector's /submit JSON body.
type submitResponse struct {
	ID   int64  `json:"id"`
	Hash string `json:"hash"`
}

// Submit POSTs b to /submit. A 409 response is reported as ErrConflict so
// the caller can treat it as an already-delivered success; any other
// non-2xx response is reported as a plain error so the retry loop backs
// off and retries.
func (c *Client) Submit(ctx context.Context, b *batch.Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("agentloop: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/submit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agentloop: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agentloop: submit returned status %d", resp.StatusCode)
	}
	var out submitResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return nil
}

type checkpointWire struct {
	AgentID  string `json:"agent_id"`
	LastSeq  uint64 `json:"last_seq"`
	LastHash string `json:"last_hash"`
	Count    int64  `json:"count"`
}

// Checkpoint asks the collector for this agent_id's checkpoint. found is
// false when the agent has no stored batches (not an error); err is
// returned only on a transport or decode failure.
func (c *Client) Checkpoint(ctx context.Context, agentID string) (lastSeq uint64, lastHash [batch.HashSize]byte, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/batches/checkpoints", nil)
	if err != nil {
		return 0, lastHash, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, lastHash, false, err
	}
	defer resp.Body.Close()

	var all []checkpointWire
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return 0, lastHash, false, err
	}
	for _, cp := range all {
		if cp.AgentID == agentID {
			h, perr := batch.ParseHash(cp.LastHash)
			if perr != nil {
				return 0, lastHash, false, perr
			}
			return cp.LastSeq, h, true, nil
		}
	}
	return 0, lastHash, false, nil
}
