package types

import (
	"fmt"
	"strings"
)

// AgentConfig is the static description of one roster agent.
type AgentConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	Description  string   `json:"description" yaml:"description"`
	Facilitator  bool     `json:"facilitator,omitempty" yaml:"facilitator,omitempty"`
	Temperature  float32  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	GraphRAGURL  string   `json:"graph_rag_url,omitempty" yaml:"graph_rag_url,omitempty"`
}

// Validate checks the fields every agent needs.
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.ContainsAny(c.Name, " \t\n:") {
		return fmt.Errorf("agent name %q must not contain whitespace or ':'", c.Name)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("agent %s: temperature must be within [0, 2]", c.Name)
	}
	return nil
}

// FacilitatorOf returns the flagged facilitator, or the first agent.
func FacilitatorOf(agents []AgentConfig) (AgentConfig, bool) {
	if len(agents) == 0 {
		return AgentConfig{}, false
	}
	for _, a := range agents {
		if a.Facilitator {
			return a, true
		}
	}
	return agents[0], true
}
