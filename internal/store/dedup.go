package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// computeDedupKey uses the event id from the payload when present and a
// short content hash otherwise.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
