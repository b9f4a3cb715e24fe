package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps are written by this layer in UTC RFC3339Nano, never left to
// store-side defaults, so semantics stay portable across backends.
const timeLayout = time.RFC3339Nano

func now() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// normalizeBlob maps an absent opaque payload to an empty JSON object so the
// NOT NULL columns always hold valid JSON text. Non-empty payloads pass
// through byte-for-byte.
func normalizeBlob(b json.RawMessage) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

// blobOut returns the blob exactly as it will be stored, so create/update
// results match a subsequent read.
func blobOut(b json.RawMessage) json.RawMessage {
	return json.RawMessage(normalizeBlob(b))
}
