package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/conversation"
)

func TestIsClearCommand(t *testing.T) {
	for text, want := range map[string]bool{
		"clear":                 true,
		" Clear Patient ":       true,
		"CLEAR CONTEXT":         true,
		"clear patient context": true,
		"clear the board":       false,
		"please clear":          false,
		"":                      false,
	} {
		assert.Equal(t, want, IsClearCommand(text), text)
	}
}

func TestParseMention(t *testing.T) {
	roster := []string{"Orchestrator", "Radiology", "PatientHistory"}
	tests := []struct {
		text string
		want string
	}{
		{"Radiology: review the CT", "Radiology"},
		{"radiology: review the CT", "Radiology"},
		{"@PatientHistory: timeline please", "PatientHistory"},
		{"  orchestrator :  hi", "Orchestrator"},
		{"Pathology: slides", ""},
		{"review the CT", ""},
		{"note: Radiology is late", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMention(tt.text, roster))
		})
	}
}

type plainAgent struct{ name string }

func (p plainAgent) Name() string        { return p.name }
func (p plainAgent) Description() string { return "" }
func (p plainAgent) IsFacilitator() bool { return false }
func (p plainAgent) Invoke(context.Context, []chatctx.ChatMessage) (string, error) {
	return "", nil
}

func TestProbePresence(t *testing.T) {
	agents := []conversation.Agent{
		conversation.NewFakeAgent("Orchestrator", true),
		conversation.NewFakeAgent("Radiology", false).WithProbeError(errors.New("timeout")),
		plainAgent{name: "Legacy"},
		conversation.NewFakeAgent("ClinicalTrials", false),
	}

	got := ProbePresence(context.Background(), agents, time.Second, nil)
	require.Len(t, got, 3)
	assert.Equal(t, "Orchestrator", got[0].Name())
	assert.Equal(t, "Legacy", got[1].Name())
	assert.Equal(t, "ClinicalTrials", got[2].Name())
}

func TestMemoryBusyGuard(t *testing.T) {
	g := NewMemoryBusyGuard()
	ctx := context.Background()

	release, err := g.Acquire(ctx, "C1")
	require.NoError(t, err)
	_, err = g.Acquire(ctx, "C1")
	assert.True(t, IsBusy(err))

	other, err := g.Acquire(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Active())

	release()
	release()
	other()
	assert.Zero(t, g.Active())

	_, err = g.Acquire(ctx, "C1")
	assert.NoError(t, err)
}
