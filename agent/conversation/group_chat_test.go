package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/testutil"
	"github.com/BaSui01/careflow/testutil/fixtures"
	"github.com/BaSui01/careflow/testutil/mocks"
)

// orderedSelection returns agents by name in order, then the facilitator.
type orderedSelection struct {
	order []string
}

func (s *orderedSelection) Next(ctx context.Context, agents []Agent, history []chatctx.ChatMessage) (Agent, error) {
	if len(s.order) == 0 {
		return facilitatorOf(agents), nil
	}
	name := s.order[0]
	s.order = s.order[1:]
	a, ok := findAgent(agents, name)
	if !ok {
		return nil, ErrUnknownAgent
	}
	return a, nil
}

type neverTerminate struct{}

func (neverTerminate) ShouldAgentTerminate(context.Context, Agent, []chatctx.ChatMessage) bool {
	return false
}

func collect(t *testing.T, ch <-chan Response) []Response {
	t.Helper()
	var out []Response
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-deadline:
			t.Fatal("group chat did not finish")
			return out
		}
	}
}

func speakers(rs []Response) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Speaker
	}
	return out
}

func TestNewGroupChat(t *testing.T) {
	_, err := NewGroupChat(nil, chatctx.New("C1"))
	assert.ErrorIs(t, err, ErrNoAgents)

	_, err = NewGroupChat([]Agent{NewFakeAgent("A", false)}, nil)
	assert.Error(t, err)

	a, b := NewFakeAgent("A", false), NewFakeAgent("B", true)
	g, err := NewGroupChat([]Agent{a, b}, chatctx.New("C1"))
	require.NoError(t, err)
	assert.Equal(t, "B", g.Facilitator().Name())

	g, err = NewGroupChat([]Agent{a, NewFakeAgent("C", false)}, chatctx.New("C1"))
	require.NoError(t, err)
	assert.Equal(t, "A", g.Facilitator().Name(), "first agent when none is flagged")
}

func TestGroupChat_LLMStrategiesDriveTheRun(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithFormatResponses(SelectionFormatName,
			fixtures.ChatRuleJSON("Orchestrator", "facilitator starts"),
			fixtures.ChatRuleJSON("Radiology", "asked by name"),
			fixtures.ChatRuleJSON("Orchestrator", "back to you")).
		WithFormatResponses(TerminationFormatName,
			fixtures.ChatRuleJSON("no", "addressed to Radiology"),
			fixtures.ChatRuleJSON("yes", "asks the user"))

	orchestrator := NewFakeAgent("Orchestrator", true,
		"Radiology, please review the latest imaging.",
		"Imaging shows no acute findings. What would you like to do next?")
	radiology := NewFakeAgent("Radiology", false, "No acute findings. Back to you Orchestrator.")

	cc := chatctx.New("C1")
	cc.AddUserMessage("review the imaging for patient_4")

	g, err := NewGroupChat([]Agent{orchestrator, radiology}, cc,
		WithSelection(NewLLMSelection(provider, StrategyConfig{}, nil)),
		WithTermination(NewLLMTermination(provider, StrategyConfig{}, nil)))
	require.NoError(t, err)

	got := collect(t, g.Invoke(testutil.TestContext(t), ""))
	assert.Equal(t, []string{"Orchestrator", "Radiology", "Orchestrator"}, speakers(got))
	assert.True(t, g.IsComplete())
	assert.NoError(t, g.Err())
	assert.Equal(t, 3, g.Iterations())
	require.Len(t, cc.History, 4)
	assert.Equal(t, "Radiology", cc.History[2].Name)

	// termination only ran for the facilitator and only saw the last message
	calls := provider.GetCallsForFormat(TerminationFormatName)
	require.Len(t, calls, 2)
	last := calls[1].Request.Messages[0].Content
	assert.Contains(t, last, "What would you like to do next?")
	assert.NotContains(t, last, "No acute findings. Back to you")
	assert.NotContains(t, last, "review the imaging for patient_4")
}

func TestGroupChat_TargetSkipsSelection(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithFormatResponses(TerminationFormatName, fixtures.ChatRuleJSON("yes", "done"))
	orchestrator := NewFakeAgent("Orchestrator", true, "Anything else?")
	radiology := NewFakeAgent("Radiology", false, "Imaging reviewed.")

	cc := chatctx.New("C1")
	cc.AddUserMessage("Radiology: review the scan")
	g, err := NewGroupChat([]Agent{orchestrator, radiology}, cc,
		WithSelection(&orderedSelection{}),
		WithTermination(NewLLMTermination(provider, StrategyConfig{}, nil)))
	require.NoError(t, err)

	got := collect(t, g.Invoke(context.Background(), "Radiology"))
	assert.Equal(t, []string{"Radiology", "Orchestrator"}, speakers(got))
	assert.True(t, g.IsComplete())
}

func TestGroupChat_UnknownTarget(t *testing.T) {
	g, err := NewGroupChat([]Agent{NewFakeAgent("A", true, "hi")}, chatctx.New("C1"))
	require.NoError(t, err)

	_, err = g.Start(context.Background(), "Nobody")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, collect(t, g.Invoke(context.Background(), "Nobody")))
	assert.False(t, g.Running())
}

func TestGroupChat_EmptyResponsesSkipped(t *testing.T) {
	orchestrator := NewFakeAgent("Orchestrator", true, "Let me check.", "Done. Anything else?")
	quiet := NewFakeAgent("Quiet", false, "  ")

	cc := chatctx.New("C1")
	cc.AddUserMessage("go")
	g, err := NewGroupChat([]Agent{orchestrator, quiet}, cc,
		WithSelection(&orderedSelection{order: []string{"Orchestrator", "Quiet", "Orchestrator"}}),
		WithTermination(KeywordTermination{Words: []string{"Done. Anything else?"}}))
	require.NoError(t, err)

	got := collect(t, g.Invoke(context.Background(), ""))
	assert.Equal(t, []string{"Orchestrator", "Orchestrator"}, speakers(got))
	assert.Equal(t, 2, g.Iterations())
	assert.Equal(t, 1, quiet.Calls())
	require.Len(t, cc.History, 3)
}

func TestGroupChat_IterationCeiling(t *testing.T) {
	a := NewFakeAgent("A", true, "still going")
	b := NewFakeAgent("B", false, "me too")
	cc := chatctx.New("C1")
	g, err := NewGroupChat([]Agent{a, b}, cc,
		WithTermination(neverTerminate{}),
		WithMaximumIterations(7))
	require.NoError(t, err)

	got := collect(t, g.Invoke(context.Background(), ""))
	assert.Len(t, got, 7)
	assert.False(t, g.IsComplete())
	assert.NoError(t, g.Err())
	assert.Len(t, cc.History, 7)
}

func TestGroupChat_DefaultCeilingIsThirty(t *testing.T) {
	g, err := NewGroupChat([]Agent{NewFakeAgent("A", true, "again")}, chatctx.New("C1"),
		WithTermination(neverTerminate{}))
	require.NoError(t, err)
	assert.Len(t, collect(t, g.Invoke(context.Background(), "")), DefaultMaximumIterations)
}

func TestGroupChat_AgentErrorStopsRun(t *testing.T) {
	boom := errors.New("model unavailable")
	a := NewFakeAgent("A", true).WithError(boom)
	g, err := NewGroupChat([]Agent{a}, chatctx.New("C1"))
	require.NoError(t, err)

	assert.Empty(t, collect(t, g.Invoke(context.Background(), "")))
	assert.ErrorIs(t, g.Err(), boom)
	assert.False(t, g.IsComplete())
}

func TestGroupChat_CancelledContext(t *testing.T) {
	a := NewFakeAgent("A", true, "hello")
	cc := chatctx.New("C1")
	g, err := NewGroupChat([]Agent{a}, cc, WithTermination(neverTerminate{}))
	require.NoError(t, err)

	assert.Empty(t, collect(t, g.Invoke(testutil.CancelledContext(), "")))
	assert.ErrorIs(t, g.Err(), context.Canceled)
	assert.Empty(t, cc.History)
}

func TestGroupChat_StopsYieldingWhenConsumerLeaves(t *testing.T) {
	a := NewFakeAgent("A", true, "tick")
	cc := chatctx.New("C1")
	g, err := NewGroupChat([]Agent{a}, cc, WithTermination(neverTerminate{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := g.Invoke(ctx, "")
	first, ok := testutil.WaitForChannel(ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, "tick", first.Content)
	cancel()

	testutil.Drain(ch)
	assert.ErrorIs(t, g.Err(), context.Canceled)
	assert.Less(t, len(cc.History), DefaultMaximumIterations)
}

func TestGroupChat_BusyWhileRunning(t *testing.T) {
	a := NewFakeAgent("A", true, "tick")
	g, err := NewGroupChat([]Agent{a}, chatctx.New("C1"), WithTermination(neverTerminate{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := g.Invoke(ctx, "")
	_, ok := testutil.WaitForChannel(ch, time.Second)
	require.True(t, ok)

	_, err = g.Start(ctx, "")
	assert.ErrorIs(t, err, ErrAgentBusy)

	cancel()
	testutil.Drain(ch)
	assert.False(t, g.Running())
}

func TestGroupChat_PlanGateYieldsToUser(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithFormatResponses(SelectionFormatName, fixtures.ChatRuleJSON("Orchestrator", "start")).
		WithFormatResponses(TerminationFormatName, fixtures.ChatRuleJSON("no", "talking to agents"))
	orchestrator := NewFakeAgent("Orchestrator", true,
		"Plan:\n1. PatientHistory loads the timeline\n2. Radiology reviews imaging")
	history := NewFakeAgent("PatientHistory", false, "timeline")

	cc := chatctx.New("C1")
	cc.AddUserMessage("start tumor board for patient_4")
	g, err := NewGroupChat([]Agent{orchestrator, history}, cc,
		WithSelection(NewLLMSelection(provider, StrategyConfig{}, nil)),
		WithTermination(NewLLMTermination(provider, StrategyConfig{}, nil)))
	require.NoError(t, err)

	got := collect(t, g.Invoke(context.Background(), ""))
	assert.Equal(t, []string{"Orchestrator"}, speakers(got))
	assert.True(t, g.IsComplete())
	assert.Zero(t, history.Calls())
}

func TestGroupChat_TurnObserver(t *testing.T) {
	var seen []string
	g, err := NewGroupChat([]Agent{NewFakeAgent("A", true, "x")}, chatctx.New("C1"),
		WithTermination(KeywordTermination{Words: []string{"x"}}),
		WithTurnObserver(func(s string) { seen = append(seen, s) }))
	require.NoError(t, err)
	collect(t, g.Invoke(context.Background(), ""))
	assert.Equal(t, []string{"A"}, seen)
}

// TestProperty_TerminationBounded checks the ceiling holds for any roster,
// ceiling and mix of empty replies when termination never fires.
func TestProperty_TerminationBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "agents")
		ceiling := rapid.IntRange(1, 40).Draw(rt, "ceiling")
		agents := make([]Agent, n)
		for i := range agents {
			reply := "reply"
			if rapid.Bool().Draw(rt, "empty") {
				reply = ""
			}
			agents[i] = NewFakeAgent(strings.Repeat("a", i+1), i == 0, reply)
		}
		cc := chatctx.New("C1")
		g, err := NewGroupChat(agents, cc, WithTermination(neverTerminate{}), WithMaximumIterations(ceiling))
		if err != nil {
			rt.Fatal(err)
		}
		count := 0
		for range g.Invoke(context.Background(), "") {
			count++
		}
		if count > ceiling || len(cc.History) > ceiling {
			rt.Fatalf("%d turns exceed ceiling %d", count, ceiling)
		}
	})
}
