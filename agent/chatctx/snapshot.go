package chatctx

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SnapshotMarker prefixes the ephemeral patient-context system message.
const SnapshotMarker = "PATIENT_CONTEXT_JSON"

// Snapshot grounds agents in the active patient for one turn.
type Snapshot struct {
	ConversationID string   `json:"conversation_id"`
	PatientID      *string  `json:"patient_id"`
	AllPatientIDs  []string `json:"all_patient_ids"`
	GeneratedAt    string   `json:"generated_at"`
}

// IsSnapshotMessage reports whether m carries a snapshot.
func IsSnapshotMessage(m ChatMessage) bool {
	return m.Role == RoleSystem && strings.HasPrefix(m.Content, SnapshotMarker)
}

// StripSnapshots returns history without any snapshot messages.
func StripSnapshots(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if !IsSnapshotMessage(m) {
			out = append(out, m)
		}
	}
	return out
}

// BuildSnapshot derives the snapshot from c's current scope and roster.
func BuildSnapshot(c *ChatContext, now time.Time) Snapshot {
	s := Snapshot{
		ConversationID: c.ConversationID,
		AllPatientIDs:  c.KnownPatientIDs(),
		GeneratedAt:    now.UTC().Format("2006-01-02T15:04:05.000000") + "Z",
	}
	if c.PatientID != "" {
		pid := c.PatientID
		s.PatientID = &pid
	}
	return s
}

// FormatSnapshot renders "<marker>: <compact json>".
func FormatSnapshot(s Snapshot) string {
	data, _ := json.Marshal(s)
	return SnapshotMarker + ": " + string(data)
}

// ParseSnapshot decodes the JSON payload of a snapshot message.
func ParseSnapshot(content string) (Snapshot, error) {
	var s Snapshot
	if !strings.HasPrefix(content, SnapshotMarker) {
		return s, fmt.Errorf("not a patient context snapshot")
	}
	payload := strings.TrimSpace(strings.TrimPrefix(content, SnapshotMarker))
	payload = strings.TrimSpace(strings.TrimPrefix(payload, ":"))
	if payload == "" {
		return s, fmt.Errorf("empty snapshot payload")
	}
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}

// InjectSnapshot strips stale snapshots and inserts a fresh one at index 0.
func InjectSnapshot(c *ChatContext, now time.Time) Snapshot {
	s := BuildSnapshot(c, now)
	rest := StripSnapshots(c.History)
	c.History = append([]ChatMessage{SystemMessage(FormatSnapshot(s))}, rest...)
	return s
}

// CurrentSnapshot returns the snapshot at index 0, if present.
func CurrentSnapshot(c *ChatContext) (Snapshot, bool) {
	if len(c.History) == 0 || !IsSnapshotMessage(c.History[0]) {
		return Snapshot{}, false
	}
	s, err := ParseSnapshot(c.History[0].Content)
	if err != nil {
		return Snapshot{}, false
	}
	return s, true
}
