package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// TruncationMarker replaces a payload that exceeded the size limit.
type TruncationMarker struct {
	Truncated    bool   `json:"truncated"`
	OriginalSize int    `json:"originalSize"`
	SHA256       string `json:"sha256"`
}

// BoundPayload returns raw unchanged when it fits in maxBytes, otherwise a
// marker describing it. Cutting JSON mid-value would leave it unparseable.
func BoundPayload(raw json.RawMessage, maxBytes int) json.RawMessage {
	_, truncated, size, sum := truncateBytes(raw, maxBytes)
	if !truncated {
		return raw
	}
	marker, err := json.Marshal(TruncationMarker{Truncated: true, OriginalSize: size, SHA256: sum})
	if err != nil {
		return nil
	}
	return marker
}
