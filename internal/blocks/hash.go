package blocks

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// Hash returns a hex BLAKE2b-256 digest of the canonical JSON form of raw.
// Two snapshots that differ only in key order or whitespace hash the same.
func Hash(raw []byte) string {
	sum := blake2b.Sum256(normalizeJSON(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeJSON(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return trimmed
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return trimmed
	}
	return normalized
}
