// Package agentstate persists an agent's signing key, next sequence number,
// and last hash across restarts, in a writable state directory.
package agentstate

import (
	"crypto/ed25519"
	cryptoRand "crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Amir23156/Secure-Distributed-Log-Aggregator-with-tamper-evident-storage/internal/batch"
)

const (
	keyFile      = "agent.key"
	seqFile      = "seq.txt"
	prevHashFile = "prev_hash.txt"
)

// Store is a small wrapper over a state directory holding the three files
// described by the data model: agent.key (32 raw bytes), seq.txt (ASCII
// decimal), prev_hash.txt (64 lowercase hex chars).
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open returns a Store rooted at dir, creating the directory if necessary.
// It does not read any files; call Load for that.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("agentstate: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// State is the in-memory view of everything a Store persists.
type State struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	AgentID    string
	Seq        uint64
	PrevHash   [batch.HashSize]byte
}

// Load reads all three items. Missing or malformed files are treated as
// "start fresh": a missing key is generated and persisted; a missing or
// unparsable seq defaults to 1; a missing or malformed prev_hash defaults to
// all-zero.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, pub, err := s.loadOrCreateKeyLocked()
	if err != nil {
		return nil, err
	}

	seq := s.loadSeqLocked()
	prevHash := s.loadPrevHashLocked()

	return &State{
		PrivateKey: priv,
		PublicKey:  pub,
		AgentID:    batch.AgentIDFromPublicKey(pub),
		Seq:        seq,
		PrevHash:   prevHash,
	}, nil
}

func (s *Store) loadOrCreateKeyLocked() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	path := filepath.Join(s.dir, keyFile)
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) == ed25519.SeedSize {
		priv := ed25519.NewKeyFromSeed(raw)
		return priv, priv.Public().(ed25519.PublicKey), nil
	}

	pub, priv, err := ed25519.GenerateKey(cryptoRand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("agentstate: generate key: %w", err)
	}
	seed := priv.Seed()
	if werr := os.WriteFile(path, seed, 0o600); werr != nil {
		return nil, nil, fmt.Errorf("agentstate: write key: %w", werr)
	}
	return priv, pub, nil
}

func (s *Store) loadSeqLocked() uint64 {
	raw, err := os.ReadFile(filepath.Join(s.dir, seqFile))
	if err != nil {
		return 1
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || v == 0 {
		return 1
	}
	return v
}

func (s *Store) loadPrevHashLocked() [batch.HashSize]byte {
	raw, err := os.ReadFile(filepath.Join(s.dir, prevHashFile))
	if err != nil {
		return batch.ZeroHash
	}
	h, err := batch.ParseHash(strings.TrimSpace(string(raw)))
	if err != nil {
		return batch.ZeroHash
	}
	return h
}

// SaveSeq overwrites seq.txt with the decimal representation of seq.
func (s *Store) SaveSeq(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dir, seqFile), []byte(strconv.FormatUint(seq, 10)+"\n"), 0o600)
}

// SavePrevHash overwrites prev_hash.txt with the lowercase hex of h.
func (s *Store) SavePrevHash(h [batch.HashSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dir, prevHashFile), []byte(batch.HashString(h)+"\n"), 0o600)
}

// Reset overwrites seq.txt and then prev_hash.txt. The two writes are
// separate, so the pair is not updated atomically (crash-during-write is
// handled by the collector's idempotency, not by write atomicity here, per
// the data model).
func (s *Store) Reset(seq uint64, prevHash [batch.HashSize]byte) error {
	if err := s.SaveSeq(seq); err != nil {
		return err
	}
	return s.SavePrevHash(prevHash)
}
