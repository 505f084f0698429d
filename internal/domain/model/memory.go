package model

import "time"

// ConversationMemory holds long-lived facts and a rolling recap extracted
// off the reply path.
type ConversationMemory struct {
	ConversationID string
	Facts          []string
	Recap          string
	UpdatedAt      time.Time
}

// MergeFacts appends new facts, skipping exact duplicates, and keeps at most
// limit entries (newest win). limit <= 0 keeps everything.
func (m *ConversationMemory) MergeFacts(facts []string, limit int) {
	seen := make(map[string]struct{}, len(m.Facts))
	for _, f := range m.Facts {
		seen[f] = struct{}{}
	}
	for _, f := range facts {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		m.Facts = append(m.Facts, f)
	}
	if limit > 0 && len(m.Facts) > limit {
		m.Facts = append([]string(nil), m.Facts[len(m.Facts)-limit:]...)
	}
}
