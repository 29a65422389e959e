package chatctx

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is written into every persisted record.
// Records without a version are read as version 1.
const SchemaVersion = 2

// Record is the persisted JSON shape of a ChatContext.
type Record struct {
	SchemaVersion         int              `json:"schema_version"`
	ConversationID        string           `json:"conversation_id"`
	PatientID             *string          `json:"patient_id"`
	WorkflowSummary       *string          `json:"workflow_summary"`
	ChatHistory           []RecordMessage  `json:"chat_history"`
	PatientData           []map[string]any `json:"patient_data"`
	DisplayBlobURLs       []string         `json:"display_blob_urls"`
	DisplayImageURLs      []string         `json:"display_image_urls"`
	DisplayClinicalTrials []string         `json:"display_clinical_trials"`
	OutputData            []map[string]any `json:"output_data"`
	HealthcareAgents      map[string]any   `json:"healthcare_agents"`
}

// RecordMessage is one persisted history entry. Items is the legacy
// content layout and is only read, never written.
type RecordMessage struct {
	Role    string       `json:"role"`
	Content *string      `json:"content,omitempty"`
	Name    *string      `json:"name"`
	Items   []recordItem `json:"items,omitempty"`
}

type recordItem struct {
	Text string `json:"text"`
}

// DecodeStats counts history entries dropped while decoding.
type DecodeStats struct {
	SchemaVersion int
	MissingRole   int
	UnknownRole   int
	MissingText   int
	EmptyTool     int
}

// Dropped is the total number of skipped entries.
func (s DecodeStats) Dropped() int {
	return s.MissingRole + s.UnknownRole + s.MissingText + s.EmptyTool
}

// ToRecord converts c to its persisted shape. Snapshot messages are never included.
func ToRecord(c *ChatContext) Record {
	r := Record{
		SchemaVersion:         SchemaVersion,
		ConversationID:        c.ConversationID,
		ChatHistory:           make([]RecordMessage, 0, len(c.History)),
		PatientData:           orEmpty(c.PatientData),
		DisplayBlobURLs:       orEmptyStrings(c.DisplayBlobURLs),
		DisplayImageURLs:      orEmptyStrings(c.DisplayImageURLs),
		DisplayClinicalTrials: orEmptyStrings(c.DisplayClinicalTrials),
		OutputData:            orEmpty(c.OutputData),
		HealthcareAgents:      c.HealthcareAgents,
	}
	if r.HealthcareAgents == nil {
		r.HealthcareAgents = map[string]any{}
	}
	if c.PatientID != "" {
		pid := c.PatientID
		r.PatientID = &pid
	}
	if c.WorkflowSummary != "" {
		ws := c.WorkflowSummary
		r.WorkflowSummary = &ws
	}

	for _, m := range c.History {
		if IsSnapshotMessage(m) {
			continue
		}
		content := m.Content
		rm := RecordMessage{Role: string(m.Role), Content: &content}
		if m.Name != "" {
			name := m.Name
			rm.Name = &name
		}
		r.ChatHistory = append(r.ChatHistory, rm)
	}
	return r
}

// FromRecord rebuilds a ChatContext. Entries with no role, an unknown role,
// no text, or an empty tool payload are skipped, as are snapshot messages.
func FromRecord(r Record) (*ChatContext, DecodeStats) {
	stats := DecodeStats{SchemaVersion: r.SchemaVersion}
	if stats.SchemaVersion == 0 {
		stats.SchemaVersion = 1
	}

	c := New(r.ConversationID)
	if r.PatientID != nil {
		c.PatientID = *r.PatientID
	}
	if r.WorkflowSummary != nil {
		c.WorkflowSummary = *r.WorkflowSummary
	}

	for _, rm := range r.ChatHistory {
		if rm.Role == "" {
			stats.MissingRole++
			continue
		}
		role, ok := ParseRole(rm.Role)
		if !ok {
			stats.UnknownRole++
			continue
		}

		var text string
		switch {
		case rm.Content != nil:
			text = *rm.Content
		case len(rm.Items) > 0:
			text = rm.Items[0].Text
		default:
			stats.MissingText++
			continue
		}
		if role == RoleTool && text == "" {
			stats.EmptyTool++
			continue
		}

		m := ChatMessage{Role: role, Content: text}
		if rm.Name != nil {
			m.Name = *rm.Name
		}
		if IsSnapshotMessage(m) {
			continue
		}
		c.History = append(c.History, m)
	}

	c.PatientData = r.PatientData
	c.DisplayBlobURLs = r.DisplayBlobURLs
	c.DisplayImageURLs = r.DisplayImageURLs
	c.DisplayClinicalTrials = r.DisplayClinicalTrials
	c.OutputData = r.OutputData
	if r.HealthcareAgents != nil {
		c.HealthcareAgents = r.HealthcareAgents
	}
	return c, stats
}

// Marshal serializes c for storage.
func Marshal(c *ChatContext) ([]byte, error) {
	data, err := json.MarshalIndent(ToRecord(c), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat context: %w", err)
	}
	return data, nil
}

// Unmarshal parses a stored record.
func Unmarshal(data []byte) (*ChatContext, DecodeStats, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, DecodeStats{}, fmt.Errorf("failed to unmarshal chat context: %w", err)
	}
	if r.ConversationID == "" {
		return nil, DecodeStats{}, fmt.Errorf("chat context record has no conversation_id")
	}
	c, stats := FromRecord(r)
	return c, stats, nil
}

func orEmpty(v []map[string]any) []map[string]any {
	if v == nil {
		return []map[string]any{}
	}
	return v
}

func orEmptyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
