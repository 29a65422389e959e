package conversation

import (
	"context"
	"time"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/structured"
	"github.com/BaSui01/careflow/llm"
)

// ChatRule is the structured verdict returned by selection and termination.
// Reasoning is logged and never parsed.
type ChatRule struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

// ChatRuleSchema is the schema both strategies request.
func ChatRuleSchema() *structured.JSONSchema {
	return structured.NewObjectSchema().
		AddProperty("verdict", structured.NewStringSchema()).
		AddProperty("reasoning", structured.NewStringSchema())
}

// StrategyConfig configures the model calls behind the LLM strategies.
type StrategyConfig struct {
	Model     string        `json:"model" yaml:"model"`
	MaxTokens int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultStrategyConfig returns the defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Model:     "gpt-4o",
		MaxTokens: 300,
		Timeout:   30 * time.Second,
	}
}

func (c StrategyConfig) withDefaults() StrategyConfig {
	d := DefaultStrategyConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// askRule runs one ChatRule completion. Models that accept sampling
// parameters get temperature 0 and DefaultSeed; reasoning models get neither.
func askRule(ctx context.Context, provider llm.Provider, cfg StrategyConfig, format, prompt string) (ChatRule, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req := &llm.ChatRequest{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Messages:  []llm.Message{{Role: llm.RoleSystem, Content: prompt}},
	}
	if llm.SupportsTemperature(cfg.Model) {
		seed := DefaultSeed
		req.Temperature = 0
		req.Seed = &seed
	}
	return structured.Call(ctx, provider, req, format, ChatRuleSchema(), ChatRule{})
}

// SelectionStrategy picks the next speaker. The result must be one of agents.
type SelectionStrategy interface {
	Next(ctx context.Context, agents []Agent, history []chatctx.ChatMessage) (Agent, error)
}

// TerminationStrategy decides whether the run hands control back to the user.
type TerminationStrategy interface {
	// ShouldAgentTerminate is consulted after agent's message has been appended.
	ShouldAgentTerminate(ctx context.Context, agent Agent, history []chatctx.ChatMessage) bool
}
