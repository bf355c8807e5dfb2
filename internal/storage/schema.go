package storage

import "strings"

// zeroHashHex is the 64-character lowercase hex encoding of the all-zero
// 32-byte digest used as prev_hash for an agent's first batch.
var zeroHashHex = strings.Repeat("0", 64)

// schema holds the DDL for the append-only store: the agents registry, the
// batches table, their indices, and the triggers that enforce append-only
// and chain-ordering invariants independently of the application — the
// ground truth if someone writes to the database out-of-band.
var schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id   TEXT PRIMARY KEY,
	public_key TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	logs        TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	signature   TEXT NOT NULL,
	public_key  TEXT NOT NULL,
	received_at INTEGER NOT NULL,
	source      TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_agent_seq ON batches(agent_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_agent_hash ON batches(agent_id, hash);
CREATE INDEX IF NOT EXISTS idx_batches_agent_timestamp ON batches(agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_batches_timestamp ON batches(timestamp);

CREATE TRIGGER IF NOT EXISTS batches_no_update
BEFORE UPDATE ON batches
BEGIN
	SELECT RAISE(ABORT, 'batches is append-only: update forbidden');
END;

CREATE TRIGGER IF NOT EXISTS batches_no_delete
BEFORE DELETE ON batches
BEGIN
	SELECT RAISE(ABORT, 'batches is append-only: delete forbidden');
END;

CREATE TRIGGER IF NOT EXISTS batches_chain_check
BEFORE INSERT ON batches
WHEN (SELECT COUNT(*) FROM batches WHERE agent_id = NEW.agent_id) = 0
BEGIN
	SELECT CASE
		WHEN NEW.seq != 1 THEN RAISE(ABORT, 'first batch for agent must have seq=1')
		WHEN NEW.prev_hash != '__ZERO_HASH__' THEN RAISE(ABORT, 'first batch for agent must have prev_hash=zero')
	END;
END;

CREATE TRIGGER IF NOT EXISTS batches_chain_check_continuation
BEFORE INSERT ON batches
WHEN (SELECT COUNT(*) FROM batches WHERE agent_id = NEW.agent_id) > 0
BEGIN
	SELECT CASE
		WHEN NEW.seq != (SELECT seq FROM batches WHERE agent_id = NEW.agent_id ORDER BY seq DESC LIMIT 1) + 1
			THEN RAISE(ABORT, 'seq must continue the agent chain')
		WHEN NEW.prev_hash != (SELECT hash FROM batches WHERE agent_id = NEW.agent_id ORDER BY seq DESC LIMIT 1)
			THEN RAISE(ABORT, 'prev_hash must equal last hash for agent chain')
	END;
END;
`

func init() {
	schema = strings.ReplaceAll(schema, "__ZERO_HASH__", zeroHashHex)
}
