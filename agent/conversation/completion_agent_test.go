package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/llm"
	"github.com/BaSui01/careflow/llm/tokenizer"
	"github.com/BaSui01/careflow/testutil/fixtures"
	"github.com/BaSui01/careflow/testutil/mocks"
	"github.com/BaSui01/careflow/types"
)

func TestRoster_ExcludesMagentic(t *testing.T) {
	configs := append(fixtures.MinimalRoster(), types.AgentConfig{Name: "magentic", Description: "planner"})
	roster := Roster(configs)
	require.Len(t, roster, 2)
	for _, c := range roster {
		assert.NotEqual(t, "magentic", c.Name)
	}
}

func TestFacilitatorInstructions(t *testing.T) {
	roster := fixtures.MinimalRoster()
	got := FacilitatorInstructions(roster[0], roster)
	assert.NotContains(t, got, AgentsPlaceholder)
	assert.Contains(t, got,
		"- Orchestrator: Moderates the discussion and plans the workflow.\n\t\t- PatientHistory: Loads the patient's clinical timeline.")

	plain := types.AgentConfig{Name: "X", Instructions: "keep {{aiAgents}}"}
	assert.Equal(t, "keep {{aiAgents}}", FacilitatorInstructions(plain, roster))
}

func TestNewChatCompletionAgent_Validates(t *testing.T) {
	_, err := NewChatCompletionAgent(types.AgentConfig{Name: "bad name"}, nil, nil, mocks.NewMockProvider())
	assert.Error(t, err)

	_, err = NewChatCompletionAgent(types.AgentConfig{Name: "Radiology"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestChatCompletionAgent_Invoke(t *testing.T) {
	roster := fixtures.TumorBoardRoster()
	provider := mocks.NewMockProvider().WithResponse("  Radiology, please review the CT.  ")
	cc := chatctx.New("C1")

	cfg := roster[0]
	cfg.Temperature = 0.3
	a, err := NewChatCompletionAgent(cfg, roster, cc, provider, WithDefaultModel("gpt-4o"))
	require.NoError(t, err)
	assert.True(t, a.IsFacilitator())
	assert.Contains(t, a.Instructions(), "- ReportCreation: Writes the tumor board report.")

	history := []chatctx.ChatMessage{
		chatctx.SystemMessage(chatctx.SnapshotMarker + `: {"conversation_id":"C1"}`),
		chatctx.UserMessage("start tumor board for patient_4"),
		chatctx.AgentMessage("PatientHistory", "Timeline loaded."),
	}
	reply, err := a.Invoke(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "Radiology, please review the CT.", reply)

	req := provider.GetLastCall().Request
	assert.Equal(t, "gpt-4o", req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	require.NotNil(t, req.Seed)
	assert.Equal(t, 42, *req.Seed)
	assert.Nil(t, req.ResponseFormat)
	assert.Equal(t, "C1", req.Metadata["conversation-id"])

	require.Len(t, req.Messages, 4)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, a.Instructions(), req.Messages[0].Content)
	assert.Equal(t, llm.RoleSystem, req.Messages[1].Role)
	assert.Equal(t, "*PatientHistory*: Timeline loaded.", req.Messages[3].Content)
}

func TestChatCompletionAgent_ReasoningModelOmitsTemperature(t *testing.T) {
	provider := mocks.NewMockProvider()
	cfg := types.AgentConfig{Name: "Radiology", Temperature: 0.7, Model: "o3-mini"}
	a, err := NewChatCompletionAgent(cfg, nil, nil, provider)
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), []chatctx.ChatMessage{chatctx.UserMessage("hi")})
	require.NoError(t, err)
	req := provider.GetLastCall().Request
	assert.Zero(t, req.Temperature)
	assert.Nil(t, req.Seed)
}

func TestChatCompletionAgent_TrimsToBudgetKeepingHead(t *testing.T) {
	provider := mocks.NewMockProvider()
	cfg := types.AgentConfig{Name: "PatientHistory", Instructions: "Summarize."}
	a, err := NewChatCompletionAgent(cfg, nil, nil, provider,
		WithTokenizer(tokenizer.NewEstimatorTokenizer("test", 0)),
		WithHistoryBudget(60))
	require.NoError(t, err)

	history := []chatctx.ChatMessage{chatctx.SystemMessage(chatctx.SnapshotMarker + `: {}`)}
	for i := 0; i < 20; i++ {
		history = append(history, chatctx.UserMessage(strings.Repeat("word ", 10)))
	}
	history = append(history, chatctx.UserMessage("latest question"))

	_, err = a.Invoke(context.Background(), history)
	require.NoError(t, err)
	msgs := provider.GetLastCall().Request.Messages
	require.Less(t, len(msgs), len(history)+1)
	assert.Equal(t, "Summarize.", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[1].Content, chatctx.SnapshotMarker))
	assert.Equal(t, "latest question", msgs[len(msgs)-1].Content)
}

func TestChatCompletionAgent_Errors(t *testing.T) {
	boom := errors.New("upstream down")
	a, err := NewChatCompletionAgent(types.AgentConfig{Name: "Radiology"}, nil, nil,
		mocks.NewMockProvider().WithError(boom).WithHealthError(boom))
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, a.Probe(context.Background()), boom)

	ok, err := NewChatCompletionAgent(types.AgentConfig{Name: "Radiology"}, nil, nil, mocks.NewMockProvider())
	require.NoError(t, err)
	assert.NoError(t, ok.Probe(context.Background()))
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]chatctx.ChatMessage{
		chatctx.UserMessage("hello"),
		chatctx.AgentMessage("Radiology", "hi"),
	})
	assert.Equal(t, "*User*: hello\n*Radiology*: hi", got)
}
