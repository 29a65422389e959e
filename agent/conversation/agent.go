package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/types"
)

// AgentsPlaceholder is replaced in facilitator instructions by the roster listing.
const AgentsPlaceholder = "{{aiAgents}}"

// excludedAgents never take part in a group chat.
var excludedAgents = map[string]struct{}{
	"magentic": {},
}

// Agent is one participant of a group chat.
type Agent interface {
	Name() string
	Description() string
	IsFacilitator() bool
	// Invoke produces the agent's next message for history. An empty
	// string means the agent has nothing to add.
	Invoke(ctx context.Context, history []chatctx.ChatMessage) (string, error)
}

// Prober is implemented by agents that can answer a presence probe.
type Prober interface {
	Probe(ctx context.Context) error
}

// Response is one message yielded by GroupChat.Invoke.
type Response struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Roster filters configs down to group-chat participants.
func Roster(configs []types.AgentConfig) []types.AgentConfig {
	out := make([]types.AgentConfig, 0, len(configs))
	for _, c := range configs {
		if _, skip := excludedAgents[c.Name]; skip {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FacilitatorInstructions expands AgentsPlaceholder into "- name: description"
// lines. Non-facilitators are returned unchanged.
func FacilitatorInstructions(cfg types.AgentConfig, roster []types.AgentConfig) string {
	if !cfg.Facilitator || cfg.Instructions == "" {
		return cfg.Instructions
	}
	lines := make([]string, 0, len(roster))
	for _, a := range roster {
		lines = append(lines, fmt.Sprintf("- %s: %s", a.Name, a.Description))
	}
	return strings.ReplaceAll(cfg.Instructions, AgentsPlaceholder, strings.Join(lines, "\n\t\t"))
}

// facilitatorOf returns the flagged facilitator, or the first agent.
func facilitatorOf(agents []Agent) Agent {
	for _, a := range agents {
		if a.IsFacilitator() {
			return a
		}
	}
	return agents[0]
}

func names(agents []Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name()
	}
	return out
}

func findAgent(agents []Agent, name string) (Agent, bool) {
	for _, a := range agents {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// FormatHistory renders messages as "*Speaker*: content" lines.
func FormatHistory(history []chatctx.ChatMessage) string {
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("*")
		b.WriteString(speakerOf(m))
		b.WriteString("*: ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func speakerOf(m chatctx.ChatMessage) string {
	switch {
	case m.Name != "":
		return m.Name
	case m.Role == chatctx.RoleUser:
		return "User"
	case m.Role == chatctx.RoleSystem:
		return "System"
	default:
		return string(m.Role)
	}
}
