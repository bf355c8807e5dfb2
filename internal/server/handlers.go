package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/admission"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/registry"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/storage"
)

// submitResponse mirrors the admitted row's identifying fields back to the
// agent so it can correlate its local seq with the collector's assigned id.
type submitResponse struct {
	ID   int64  `json:"id"`
	Hash string `json:"hash"`
}

func (c *Context) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFrom(r.Context())
	start := time.Now()

	reqLog := logger.WithRequestID(c.Log, reqID)

	var b batch.Batch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		reqLog.Warn().Err(err).Msg("submit rejected: malformed body")
		writeError(w, http.StatusBadRequest, "bad_request", "malformed batch: "+err.Error())
		c.Metrics.ObserveSubmit("bad_request", time.Since(start).Seconds())
		return
	}

	token, hasBearer := bearerToken(r)
	sub := admission.Submission{
		Batch:       &b,
		SourceAddr:  r.RemoteAddr,
		BearerToken: token,
		HasBearer:   hasBearer,
		ReceivedAt:  time.Now(),
	}

	row, err := c.Pipeline.Admit(r.Context(), sub)
	if err != nil {
		var rej *admission.RejectError
		if asRejectError(err, &rej) {
			status, code := rejectStatus(rej.Kind)
			logger.WithAgent(reqLog, b.AgentID).Warn().
				Uint64("seq", b.Seq).
				Str("reason", rej.Reason).
				Msg("submit rejected for agent " + b.AgentID + ": " + rej.Reason)
			writeError(w, status, code, rej.Reason)
			c.Metrics.ObserveSubmit(code, time.Since(start).Seconds())
			return
		}
		reqLog.Error().Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		c.Metrics.ObserveSubmit("internal", time.Since(start).Seconds())
		return
	}

	c.Metrics.ObserveSubmit("admitted", time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = writeJSON(w, submitResponse{ID: row.ID, Hash: batch.HashString(row.Hash)})
}

func parseUintQuery(v string) (uint64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func asRejectError(err error, target **admission.RejectError) bool {
	rej, ok := err.(*admission.RejectError)
	if ok {
		*target = rej
	}
	return ok
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):], true
	}
	return "", false
}

type registerRequest struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
}

func (c *Context) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request: "+err.Error())
		return
	}
	pub, err := batch.ParsePublicKey(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid public_key: "+err.Error())
		return
	}

	reg := c.Pipeline.Registry()
	if err := reg.Register(r.Context(), req.AgentID, pub, time.Now().Unix()); err != nil {
		if err == registry.ErrKeyConflict {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.refreshAgentsRegistered(r.Context())
	w.WriteHeader(http.StatusOK)
}

// refreshAgentsRegistered updates the agents-registered gauge. A count
// failure is logged and otherwise ignored — it never blocks the response
// the caller is waiting on.
func (c *Context) refreshAgentsRegistered(ctx context.Context) {
	n, err := c.Pipeline.Registry().Count(ctx)
	if err != nil {
		c.Log.Warn().Err(err).Msg("failed to refresh agents-registered gauge")
		return
	}
	c.Metrics.SetAgentsRegistered(float64(n))
}

type rotateRequest struct {
	AgentID      string `json:"agent_id"`
	NewPublicKey string `json:"new_public_key"`
	AuthSig      string `json:"auth_signature"`
}

func (c *Context) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request: "+err.Error())
		return
	}
	newPub, err := batch.ParsePublicKey(req.NewPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid new_public_key: "+err.Error())
		return
	}
	sig, err := batch.ParseSignature(req.AuthSig)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid auth_signature: "+err.Error())
		return
	}

	reg := c.Pipeline.Registry()
	if err := reg.Rotate(r.Context(), req.AgentID, newPub, sig); err != nil {
		switch err {
		case registry.ErrUnauthorized:
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		case registry.ErrUnknownAgent:
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Context) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListFilter{
		AgentID:      q.Get("agent_id"),
		LogSubstring: q.Get("log_substring"),
		Limit:        atoiOr(q.Get("limit"), 0),
		Offset:       atoiOr(q.Get("offset"), 0),
	}
	if n, ok := parseUintQuery(q.Get("since_seq")); ok {
		f.SinceSeq = &n
	}
	if n, ok := parseUintQuery(q.Get("since_timestamp")); ok {
		f.SinceTimestamp = &n
	}
	if n, ok := parseUintQuery(q.Get("until_timestamp")); ok {
		f.UntilTimestamp = &n
	}

	rows, err := c.Store.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, rowsToWire(rows))
}

func (c *Context) handleByID(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id := int64(atoiOr(idStr, -1))
	if id < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	row, err := c.Store.ByID(r.Context(), id)
	if err == storage.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "no such batch")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, rowToWire(*row))
}

func (c *Context) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sinceID := int64(atoiOr(q.Get("since_id"), 0))
	limit := atoiOr(q.Get("limit"), 100)

	rows, err := c.Store.Export(r.Context(), sinceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, rowsToWire(rows))
}

func (c *Context) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := c.Store.Checkpoints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSON(w, checkpointsToWire(cps))
}

// rowWire is the JSON projection of a stored row, reusing batch.Wire's hex
// encoding for the chain fields so clients decode batches and rows the same
// way.
type rowWire struct {
	ID         int64  `json:"id"`
	AgentID    string `json:"agent_id"`
	Seq        uint64 `json:"seq"`
	PrevHash   string `json:"prev_hash"`
	Hash       string `json:"hash"`
	Logs       []string `json:"logs"`
	Timestamp  uint64 `json:"timestamp"`
	Signature  string `json:"signature"`
	PublicKey  string `json:"public_key"`
	ReceivedAt int64  `json:"received_at"`
	Source     string `json:"source"`
}

func rowToWire(r storage.Row) rowWire {
	w := batch.ToWire(r.ToBatch())
	return rowWire{
		ID:         r.ID,
		AgentID:    r.AgentID,
		Seq:        r.Seq,
		PrevHash:   batch.HashString(r.PrevHash),
		Hash:       batch.HashString(r.Hash),
		Logs:       r.Logs,
		Timestamp:  r.Timestamp,
		Signature:  w.Signature,
		PublicKey:  w.PublicKey,
		ReceivedAt: r.ReceivedAt,
		Source:     r.Source,
	}
}

func rowsToWire(rows []storage.Row) []rowWire {
	out := make([]rowWire, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToWire(r))
	}
	return out
}

type checkpointWire struct {
	AgentID  string `json:"agent_id"`
	LastSeq  uint64 `json:"last_seq"`
	LastHash string `json:"last_hash"`
	Count    int64  `json:"count"`
}

func checkpointsToWire(cps []storage.Checkpoint) []checkpointWire {
	out := make([]checkpointWire, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpointWire{
			AgentID:  cp.AgentID,
			LastSeq:  cp.LastSeq,
			LastHash: batch.HashString(cp.LastHash),
			Count:    cp.Count,
		})
	}
	return out
}
