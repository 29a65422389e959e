package chatctx

import "sort"

// PatientContext is the in-memory view of one registry entry.
type PatientContext struct {
	PatientID      string
	Facts          map[string]any
	ConversationID string
}

// NewPatientContext returns an entry with an empty fact table.
func NewPatientContext(conversationID, patientID string) *PatientContext {
	return &PatientContext{PatientID: patientID, Facts: make(map[string]any), ConversationID: conversationID}
}

// ChatContext is the mutable state of the active stream of one conversation.
// PatientID == "" means session scope.
type ChatContext struct {
	ConversationID string
	PatientID      string

	// PatientContexts is a cache rebuilt from the registry every turn.
	PatientContexts map[string]*PatientContext

	History []ChatMessage

	WorkflowSummary       string
	PatientData           []map[string]any
	DisplayBlobURLs       []string
	DisplayImageURLs      []string
	DisplayClinicalTrials []string
	OutputData            []map[string]any
	HealthcareAgents      map[string]any
}

// New returns an empty session-scoped context.
func New(conversationID string) *ChatContext {
	return &ChatContext{
		ConversationID:   conversationID,
		PatientContexts:  make(map[string]*PatientContext),
		HealthcareAgents: make(map[string]any),
	}
}

// NewForPatient returns an empty context scoped to patientID.
func NewForPatient(conversationID, patientID string) *ChatContext {
	cc := New(conversationID)
	if patientID != "" {
		cc.PatientID = patientID
		cc.PatientContexts[patientID] = NewPatientContext(conversationID, patientID)
	}
	return cc
}

// AddMessage appends to the active history.
func (c *ChatContext) AddMessage(m ChatMessage) {
	c.History = append(c.History, m)
}

// AddUserMessage appends a user turn.
func (c *ChatContext) AddUserMessage(text string) {
	c.AddMessage(UserMessage(text))
}

// ReplaceHistory swaps the whole history for a copy of messages.
func (c *ChatContext) ReplaceHistory(messages []ChatMessage) {
	c.History = append([]ChatMessage(nil), messages...)
}

// ClearHistory empties the active history.
func (c *ChatContext) ClearHistory() {
	c.History = nil
}

// KnownPatientIDs returns the cached roster, sorted.
func (c *ChatContext) KnownPatientIDs() []string {
	ids := make([]string, 0, len(c.PatientContexts))
	for id := range c.PatientContexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasPatient reports whether patientID is in the cached roster.
func (c *ChatContext) HasPatient(patientID string) bool {
	_, ok := c.PatientContexts[patientID]
	return ok
}

// ResetPatientContexts empties the cached roster.
func (c *ChatContext) ResetPatientContexts() {
	c.PatientContexts = make(map[string]*PatientContext)
}

// TakeDisplayImageURLs returns and clears pending image URLs.
func (c *ChatContext) TakeDisplayImageURLs() []string {
	out := c.DisplayImageURLs
	c.DisplayImageURLs = nil
	return out
}

// TakeDisplayClinicalTrials returns and clears pending trial links.
func (c *ChatContext) TakeDisplayClinicalTrials() []string {
	out := c.DisplayClinicalTrials
	c.DisplayClinicalTrials = nil
	return out
}

// TakeDisplayBlobURLs returns and clears blob URLs awaiting signing.
func (c *ChatContext) TakeDisplayBlobURLs() []string {
	out := c.DisplayBlobURLs
	c.DisplayBlobURLs = nil
	return out
}
