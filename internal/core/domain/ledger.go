package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// HistoryEntry records one workflow transition.
type HistoryEntry struct {
	Status           OrderStatus `json:"status"`
	Timestamp        time.Time   `json:"timestamp"`
	Actor            string      `json:"actor,omitempty"`
	AmendmentVersion int         `json:"amendmentVersion"`
}

// StatusHistory is append-only; prior entries are never rewritten.
type StatusHistory []HistoryEntry

// Append returns a new history with e at the end. The receiver is untouched.
func (h StatusHistory) Append(e HistoryEntry) StatusHistory {
	out := make(StatusHistory, len(h), len(h)+1)
	copy(out, h)
	return append(out, e)
}

// Last returns the most recent entry.
func (h StatusHistory) Last() (HistoryEntry, bool) {
	if len(h) == 0 {
		return HistoryEntry{}, false
	}
	return h[len(h)-1], true
}

// DecodeStatusHistory parses a stored history. Corrupt input yields an empty
// history alongside the error so callers can log and continue.
func DecodeStatusHistory(raw string) (StatusHistory, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return StatusHistory{}, nil
	}
	var h StatusHistory
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return StatusHistory{}, fmt.Errorf("decode status history: %w", err)
	}
	return h, nil
}

func EncodeStatusHistory(h StatusHistory) (string, error) {
	if h == nil {
		h = StatusHistory{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode status history: %w", err)
	}
	return string(b), nil
}
