package batch

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Wire is the JSON representation of a Batch exchanged between agent,
// collector, and auditor. Byte arrays are hex-encoded; this choice is fixed
// across the module so encoding stays self-consistent end to end.
type Wire struct {
	PrevHash  string   `json:"prev_hash"`
	Logs      []string `json:"logs"`
	Timestamp uint64   `json:"timestamp"`
	AgentID   string   `json:"agent_id"`
	Seq       uint64   `json:"seq"`
	Signature string   `json:"signature"`
	PublicKey string   `json:"public_key"`
}

// ToWire converts a Batch to its JSON wire form.
func ToWire(b *Batch) Wire {
	return Wire{
		PrevHash:  HashString(b.PrevHash),
		Logs:      append([]string(nil), b.Logs...),
		Timestamp: b.Timestamp,
		AgentID:   b.AgentID,
		Seq:       b.Seq,
		Signature: hex.EncodeToString(b.Signature[:]),
		PublicKey: hex.EncodeToString(b.PublicKey[:]),
	}
}

// FromWire parses a wire batch back into its in-memory form, validating the
// fixed-size hex fields. It does not verify the signature; call Verify
// separately.
func FromWire(w Wire) (*Batch, error) {
	if len(w.Logs) == 0 {
		return nil, fmt.Errorf("batch: logs must be non-empty")
	}
	if w.AgentID == "" {
		return nil, fmt.Errorf("batch: agent_id must be set")
	}

	prevHash, err := ParseHash(w.PrevHash)
	if err != nil {
		return nil, err
	}
	sig, err := ParseSignature(w.Signature)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKey(w.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Batch{
		PrevHash:  prevHash,
		Logs:      append([]string(nil), w.Logs...),
		Timestamp: w.Timestamp,
		AgentID:   w.AgentID,
		Seq:       w.Seq,
		Signature: sig,
		PublicKey: pub,
	}, nil
}

// MarshalJSON implements json.Marshaler by delegating to the Wire shape.
func (b *Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToWire(b))
}

// UnmarshalJSON implements json.Unmarshaler by delegating to the Wire shape.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := FromWire(w)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}
