// Package batch implements the canonical encoding, hashing, signing, and
// verification of a log batch: the atomic, hash-chained unit the rest of
// this module moves around.
package batch

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// HashSize is the length in bytes of a batch digest and of prev_hash.
	HashSize = 32
	// PublicKeySize is the length in bytes of an Ed25519 verifying key.
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize is the length in bytes of an Ed25519 signature.
	SignatureSize = ed25519.SignatureSize
)

// ZeroHash is the all-zero digest used as prev_hash for an agent's first batch.
var ZeroHash [HashSize]byte

// Batch is the atomic, signed, hash-linked unit of delivery described by the
// data model: every field except Signature and PublicKey is covered by the
// digest, and therefore by the signature.
type Batch struct {
	PrevHash  [HashSize]byte
	Logs      []string
	Timestamp uint64
	AgentID   string
	Seq       uint64
	Signature [SignatureSize]byte
	PublicKey [PublicKeySize]byte
}

// NewBatch constructs an unsigned batch. Callers must call Sign before
// transmitting it.
func NewBatch(prevHash [HashSize]byte, seq uint64, agentID string, timestamp uint64, logs []string) *Batch {
	return &Batch{
		PrevHash:  prevHash,
		Logs:      append([]string(nil), logs...),
		Timestamp: timestamp,
		AgentID:   agentID,
		Seq:       seq,
	}
}

// Clone returns a deep copy, useful for tests that mutate a signed batch to
// assert tamper detection without disturbing the original.
func (b *Batch) Clone() *Batch {
	c := *b
	c.Logs = append([]string(nil), b.Logs...)
	return &c
}

// ComputeDigest computes the batch digest: SHA-256 over, in order,
// prev_hash (32B) || timestamp LE64 || seq LE64 || agent_id (UTF-8) ||
// each log line's UTF-8 bytes in order. No length prefixes or separators are
// included — this is a wire-format contract, reproduced bit-exactly.
func ComputeDigest(b *Batch) [HashSize]byte {
	h := sha256.New()
	h.Write(b.PrevHash[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], b.Timestamp)
	h.Write(buf[:])

	binary.LittleEndian.PutUint64(buf[:], b.Seq)
	h.Write(buf[:])

	h.Write([]byte(b.AgentID))

	for _, line := range b.Logs {
		h.Write([]byte(line))
	}

	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign computes the digest and signs it with signingKey, overwriting any
// prior signature and setting PublicKey to the corresponding verifying key.
// Placeholder signatures must never be transmitted, so Sign always leaves
// the batch in a verifiable state.
func Sign(b *Batch, signingKey ed25519.PrivateKey) error {
	if len(signingKey) != ed25519.PrivateKeySize {
		return errors.New("batch: invalid signing key length")
	}
	digest := ComputeDigest(b)
	sig := ed25519.Sign(signingKey, digest[:])

	var sigArr [SignatureSize]byte
	copy(sigArr[:], sig)
	b.Signature = sigArr

	pub := signingKey.Public().(ed25519.PublicKey)
	var pubArr [PublicKeySize]byte
	copy(pubArr[:], pub)
	b.PublicKey = pubArr
	return nil
}

// Verify recomputes the digest and checks the signature under b.PublicKey
// with crypto/ed25519: signatures whose S is not canonical are rejected, and
// key and signature lengths are fixed by the Batch field types. The public
// key is not checked for small order or for a canonical point encoding. A
// batch with an empty agent_id or no log lines never verifies.
func Verify(b *Batch) bool {
	if len(b.AgentID) == 0 || len(b.Logs) == 0 {
		return false
	}
	digest := ComputeDigest(b)
	return ed25519.Verify(b.PublicKey[:], digest[:], b.Signature[:])
}

// AgentIDFromPublicKey returns the canonical agent_id for a public key: the
// lowercase hex encoding, so identity and key discovery coincide per the
// data model's recommendation.
func AgentIDFromPublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// HashString renders a digest as lowercase hex, matching the wire/storage
// encoding used throughout the module.
func HashString(h [HashSize]byte) string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a lowercase hex digest of exactly HashSize bytes.
func ParseHash(s string) ([HashSize]byte, error) {
	var out [HashSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("batch: decode hash: %w", err)
	}
	if len(b) != HashSize {
		return out, fmt.Errorf("batch: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParsePublicKey decodes a lowercase hex Ed25519 public key.
func ParsePublicKey(s string) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("batch: decode public key: %w", err)
	}
	if len(b) != PublicKeySize {
		return out, fmt.Errorf("batch: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseSignature decodes a lowercase hex Ed25519 signature.
func ParseSignature(s string) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("batch: decode signature: %w", err)
	}
	if len(b) != SignatureSize {
		return out, fmt.Errorf("batch: signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}
