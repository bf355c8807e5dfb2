package agentloop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/agentstate"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/logger"
)

// Config tunes one Loop.
type Config struct {
	BatchSize  int
	MaxRetries int
	RetryBase  time.Duration
	PollEvery  time.Duration
}

// Loop is the agent's single-threaded producer: tail, buffer, sign, send.
type Loop struct {
	store  *agentstate.Store
	client *Client
	tailer *Tailer
	cfg    Config
	log    zerolog.Logger

	buffer []string
}

// New builds a Loop. Reconcile should be called once before Run.
func New(store *agentstate.Store, client *Client, tailer *Tailer, cfg Config, log zerolog.Logger) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	return &Loop{
		store:  store,
		client: client,
		tailer: tailer,
		cfg:    cfg,
		log:    logger.WithModule(log, "agentloop"),
	}
}

// Reconcile implements step 2 of the producer loop: query the collector's
// checkpoint for this agent_id and adjust local state accordingly. An
// unreachable collector is not fatal — local state is kept and a warning is
// logged.
func (l *Loop) Reconcile(ctx context.Context, st *agentstate.State) {
	lastSeq, lastHash, found, err := l.client.Checkpoint(ctx, st.AgentID)
	if err != nil {
		l.log.Warn().Err(err).Msg("checkpoint endpoint unreachable; continuing with local state")
		return
	}
	if found {
		st.Seq = lastSeq + 1
		st.PrevHash = lastHash
	} else {
		st.Seq = 1
		st.PrevHash = batch.ZeroHash
	}
	if err := l.store.Reset(st.Seq, st.PrevHash); err != nil {
		l.log.Warn().Err(err).Msg("failed to persist reconciled state")
	}
}

// Tick runs one iteration: read any new lines, and if the buffer has
// reached the batch-size threshold, emit and deliver one batch. Callers
// drive Tick from their own poll loop (typically a time.Ticker).
func (l *Loop) Tick(ctx context.Context, st *agentstate.State) error {
	lines, err := l.tailer.ReadNewLines()
	if err != nil {
		return err
	}
	l.buffer = append(l.buffer, lines...)

	for len(l.buffer) >= l.cfg.BatchSize {
		batchLines := append([]string(nil), l.buffer[:l.cfg.BatchSize]...)
		l.buffer = l.buffer[l.cfg.BatchSize:]
		l.emitAndDeliver(ctx, st, batchLines)
	}
	return nil
}

// emitAndDeliver implements steps 4-5: build, sign, and deliver one batch
// with bounded exponential-backoff retry. On success — including a 409
// conflict, which per spec.md §7 means the collector already durably
// admitted this exact batch (e.g. the agent's prior ack was lost to a
// network blip) — local state advances and is persisted the same way. On
// exhaustion, the batch is left un-acked and the buffer segment is still
// discarded — this reproduces the source system's documented (if
// debatable) behavior rather than silently correcting it.
func (l *Loop) emitAndDeliver(ctx context.Context, st *agentstate.State, lines []string) {
	b := batch.NewBatch(st.PrevHash, st.Seq, st.AgentID, uint64(time.Now().Unix()), lines)
	if err := batch.Sign(b, st.PrivateKey); err != nil {
		l.log.Error().Err(err).Msg("failed to sign batch; dropping")
		return
	}
	nextHash := batch.ComputeDigest(b)

	ds := NewDeliveryState(l.cfg.MaxRetries, l.cfg.RetryBase)
	for {
		ds.Attempt++
		err := l.client.Submit(ctx, b)
		if err == nil || errors.Is(err, ErrConflict) {
			if errors.Is(err, ErrConflict) {
				l.log.Info().Uint64("seq", st.Seq).Msg("batch already admitted; advancing as acked")
			}
			st.PrevHash = nextHash
			st.Seq++
			if serr := l.store.Reset(st.Seq, st.PrevHash); serr != nil {
				l.log.Error().Err(serr).Msg("failed to persist advanced state after successful send")
			}
			ds.Phase = PhaseDone
			return
		}

		l.log.Warn().Err(err).Int("attempt", ds.Attempt).Msg("submit failed")
		if ds.Exhausted() {
			ds.Phase = PhaseFailed
			l.log.Error().Uint64("seq", st.Seq).Msg("batch delivery exhausted retries; buffer segment dropped")
			return
		}

		ds.Phase = PhaseWaiting
		select {
		case <-ctx.Done():
			return
		case <-time.After(ds.NextDelay()):
		}
	}
}

// Run polls Tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, st *agentstate.State) {
	t := time.NewTicker(l.cfg.PollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.Tick(ctx, st); err != nil {
				l.log.Error().Err(err).Msg("tick failed")
			}
		}
	}
}
