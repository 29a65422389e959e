package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/llm"
	"github.com/BaSui01/careflow/llm/tokenizer"
	"github.com/BaSui01/careflow/types"
)

// DefaultSeed keeps agent sampling reproducible across runs.
const DefaultSeed = 42

// AgentOption configures a ChatCompletionAgent.
type AgentOption func(*ChatCompletionAgent)

// WithTokenizer overrides the tokenizer used for history trimming.
func WithTokenizer(t tokenizer.Tokenizer) AgentOption {
	return func(a *ChatCompletionAgent) { a.tokenizer = t }
}

// WithHistoryBudget caps the prompt at budget tokens. Zero derives the
// budget from the tokenizer's context size minus the response reserve.
func WithHistoryBudget(budget int) AgentOption {
	return func(a *ChatCompletionAgent) { a.budget = budget }
}

// WithMaxResponseTokens sets max_tokens on completions.
func WithMaxResponseTokens(n int) AgentOption {
	return func(a *ChatCompletionAgent) { a.maxTokens = n }
}

// WithDefaultModel is used when the agent config names no model.
func WithDefaultModel(model string) AgentOption {
	return func(a *ChatCompletionAgent) {
		if a.model == "" {
			a.model = model
		}
	}
}

// WithAgentLogger sets the logger.
func WithAgentLogger(logger *zap.Logger) AgentOption {
	return func(a *ChatCompletionAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// ChatCompletionAgent answers with one chat completion over the shared history.
type ChatCompletionAgent struct {
	cfg            types.AgentConfig
	instructions   string
	conversationID string
	provider       llm.Provider
	model          string
	tokenizer      tokenizer.Tokenizer
	budget         int
	maxTokens      int
	logger         *zap.Logger
}

// NewChatCompletionAgent builds an agent from its config. roster is the
// group-chat roster used to expand facilitator instructions; cc supplies
// the conversation id forwarded as request metadata. It does no I/O.
func NewChatCompletionAgent(cfg types.AgentConfig, roster []types.AgentConfig, cc *chatctx.ChatContext, provider llm.Provider, opts ...AgentOption) (*ChatCompletionAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("agent %s: provider is required", cfg.Name)
	}
	a := &ChatCompletionAgent{
		cfg:          cfg,
		instructions: FacilitatorInstructions(cfg, roster),
		provider:     provider,
		model:        cfg.Model,
		maxTokens:    1024,
		logger:       zap.NewNop(),
	}
	if cc != nil {
		a.conversationID = cc.ConversationID
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokenizer == nil {
		a.tokenizer = tokenizer.GetTokenizerOrEstimator(a.model)
	}
	a.logger = a.logger.With(zap.String("component", "chat_completion_agent"), zap.String("agent", cfg.Name))
	return a, nil
}

func (a *ChatCompletionAgent) Name() string         { return a.cfg.Name }
func (a *ChatCompletionAgent) Description() string  { return a.cfg.Description }
func (a *ChatCompletionAgent) IsFacilitator() bool  { return a.cfg.Facilitator }
func (a *ChatCompletionAgent) Instructions() string { return a.instructions }

// Invoke sends the trimmed history and returns the model's reply.
func (a *ChatCompletionAgent) Invoke(ctx context.Context, history []chatctx.ChatMessage) (string, error) {
	req := &llm.ChatRequest{
		Model:     a.model,
		Messages:  a.buildMessages(history),
		MaxTokens: a.maxTokens,
		Metadata:  map[string]string{"conversation-id": a.conversationID, "agent": a.cfg.Name},
	}
	if llm.SupportsTemperature(a.model) {
		req.Temperature = a.cfg.Temperature
		seed := DefaultSeed
		req.Seed = &seed
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent %s completion failed: %w", a.cfg.Name, err)
	}
	content, err := llm.FirstContent(resp)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.cfg.Name, err)
	}
	a.logger.Debug("agent replied",
		zap.String("conversation_id", a.conversationID),
		zap.Int("prompt_messages", len(req.Messages)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(content), nil
}

// Probe checks that the backing provider is reachable.
func (a *ChatCompletionAgent) Probe(ctx context.Context) error {
	status, err := a.provider.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if status != nil && !status.Healthy {
		return fmt.Errorf("agent %s: provider unhealthy", a.cfg.Name)
	}
	return nil
}

func (a *ChatCompletionAgent) buildMessages(history []chatctx.ChatMessage) []llm.Message {
	msgs := make([]tokenizer.Message, 0, len(history)+1)
	if a.instructions != "" {
		msgs = append(msgs, tokenizer.Message{Role: string(llm.RoleSystem), Content: a.instructions})
	}
	keep := len(msgs)
	for _, m := range history {
		if chatctx.IsSnapshotMessage(m) {
			keep = len(msgs) + 1
		}
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: attributed(m)})
	}

	budget := a.budget
	if budget <= 0 {
		budget = a.tokenizer.MaxTokens() - a.maxTokens
	}
	trimmed := tokenizer.TrimToBudget(a.tokenizer, msgs, budget, keep)
	if dropped := len(msgs) - len(trimmed); dropped > 0 {
		a.logger.Info("history trimmed to token budget",
			zap.String("conversation_id", a.conversationID),
			zap.Int("dropped", dropped),
			zap.Int("budget", budget))
	}

	out := make([]llm.Message, len(trimmed))
	for i, m := range trimmed {
		out[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return out
}

// attributed prefixes other speakers' messages so the model can tell agents apart.
func attributed(m chatctx.ChatMessage) string {
	if m.Role == chatctx.RoleAssistant && m.Name != "" {
		return "*" + m.Name + "*: " + m.Content
	}
	return m.Content
}
