package chatctx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_RoundTrip(t *testing.T) {
	c := NewForPatient("c1", "patient_4")
	c.WorkflowSummary = "tumor board prep"
	c.AddUserMessage("start tumor board for patient_4")
	c.AddMessage(AgentMessage("Orchestrator", "Plan: 1. history 2. radiology"))
	c.DisplayImageURLs = []string{"https://x/img.png"}
	InjectSnapshot(c, time.Unix(0, 0))

	data, err := Marshal(c)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, SchemaVersion, raw["schema_version"])
	assert.Equal(t, "patient_4", raw["patient_id"])
	assert.Len(t, raw["chat_history"], 2)
	assert.Equal(t, []any{}, raw["display_blob_urls"])

	back, stats, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Dropped())
	assert.Equal(t, 2, stats.SchemaVersion)
	assert.Equal(t, "c1", back.ConversationID)
	assert.Equal(t, "patient_4", back.PatientID)
	assert.Equal(t, "tumor board prep", back.WorkflowSummary)
	require.Len(t, back.History, 2)
	assert.Equal(t, "Orchestrator", back.History[1].Name)
	assert.Equal(t, RoleAssistant, back.History[1].Role)
	assert.Equal(t, []string{"https://x/img.png"}, back.DisplayImageURLs)
}

func TestRecord_StructuredDataRoundTrip(t *testing.T) {
	c := NewForPatient("c1", "patient_4")
	assert.Equal(t, "c1", c.PatientContexts["patient_4"].ConversationID)

	c.PatientData = []map[string]any{{"age": 54.0, "diagnosis": "NSCLC"}}
	c.OutputData = []map[string]any{{"agent": "Radiology", "finding": "nodule"}}

	data, err := Marshal(c)
	require.NoError(t, err)

	back, _, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, c.PatientData, back.PatientData)
	assert.Equal(t, c.OutputData, back.OutputData)

	// 空列表写为 []
	data, err = Marshal(New("c1"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{}, raw["patient_data"])
	assert.Equal(t, []any{}, raw["output_data"])
}

func TestRecord_SessionScopeWritesNullPatient(t *testing.T) {
	data, err := Marshal(New("c1"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["patient_id"])
	assert.Nil(t, raw["workflow_summary"])
}

func TestRecord_DecodeSkipsMalformed(t *testing.T) {
	legacy := `{
	  "conversation_id": "c1",
	  "patient_id": null,
	  "chat_history": [
	    {"content": "no role"},
	    {"role": "wizard", "content": "unknown role"},
	    {"role": "user"},
	    {"role": "tool", "content": ""},
	    {"role": "tool", "content": "lab results"},
	    {"role": "assistant", "items": [{"text": "legacy layout"}], "name": "Radiology"},
	    {"role": "system", "content": "PATIENT_CONTEXT_JSON: {\"conversation_id\":\"c1\"}"},
	    {"role": "user", "content": "hello"}
	  ]
	}`

	c, stats, err := Unmarshal([]byte(legacy))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SchemaVersion)
	assert.Equal(t, 1, stats.MissingRole)
	assert.Equal(t, 1, stats.UnknownRole)
	assert.Equal(t, 1, stats.MissingText)
	assert.Equal(t, 1, stats.EmptyTool)

	require.Len(t, c.History, 3)
	assert.Equal(t, ChatMessage{Role: RoleTool, Content: "lab results"}, c.History[0])
	assert.Equal(t, ChatMessage{Role: RoleAssistant, Content: "legacy layout", Name: "Radiology"}, c.History[1])
	assert.Equal(t, "hello", c.History[2].Content)
	assert.Empty(t, c.PatientID)
}

func TestRecord_UnmarshalErrors(t *testing.T) {
	_, _, err := Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = Unmarshal([]byte(`{"chat_history": []}`))
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"system", RoleSystem, true},
		{"User", RoleUser, true},
		{"assistant", RoleAssistant, true},
		{"agent", RoleAssistant, true},
		{"tool", RoleTool, true},
		{"developer", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRole(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
