package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/llm"
)

// TerminationFormatName names the termination response format.
const TerminationFormatName = "chat_rule_termination"

// LLMTermination lets only the facilitator end a run, judged on the most
// recent message alone.
type LLMTermination struct {
	provider llm.Provider
	cfg      StrategyConfig
	logger   *zap.Logger
}

// NewLLMTermination 创建基于 LLM 的终止策略
func NewLLMTermination(provider llm.Provider, cfg StrategyConfig, logger *zap.Logger) *LLMTermination {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMTermination{
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "termination_strategy")),
	}
}

// ShouldAgentTerminate returns true on a "yes" verdict. Non-facilitators
// never terminate and a parse failure continues the run.
func (t *LLMTermination) ShouldAgentTerminate(ctx context.Context, agent Agent, history []chatctx.ChatMessage) bool {
	if agent == nil || !agent.IsFacilitator() || len(history) == 0 || t.provider == nil {
		return false
	}
	window := history[len(history)-1:]

	rule, err := askRule(ctx, t.provider, t.cfg, TerminationFormatName, terminationPrompt(window))
	if err != nil {
		t.logger.Warn("termination parsing failed, continuing", zap.Error(err))
		return false
	}
	done := strings.EqualFold(strings.TrimSpace(rule.Verdict), "yes")
	t.logger.Debug("termination evaluated",
		zap.Bool("terminate", done),
		zap.String("reasoning", rule.Reasoning))
	return done
}

func terminationPrompt(window []chatctx.ChatMessage) string {
	return fmt.Sprintf(`Determine if the conversation should end based on the most recent message only.
IMPORTANT: In the History, any leading "*AgentName*:" indicates the SPEAKER of the message, not the addressee.

Return "yes" when the last message:
- asks the user a question (ends with "?" or uses "you"/"User"), OR
- invites the user to respond (e.g., "let us know", "how can we assist/help", "feel free to ask",
  "what would you like", "should we", "can we", "would you like me to", "do you want me to"), OR
- addresses "we/us" as a decision/query to the user.

Return "no" when the last message:
- is a command or question to a specific agent by name, OR
- is a statement addressed to another agent.

Commands addressed to "you" or "User" => "yes".
If you are uncertain, return "yes".
Ignore any debug/metadata like "PT_CTX" or JSON blobs when deciding.

Provide your reasoning and then the verdict. The verdict must be exactly "yes" or "no".

History:
%s`, FormatHistory(window))
}

// KeywordTermination ends the run when the facilitator's message equals one
// of Words, ignoring case and surrounding space.
type KeywordTermination struct {
	Words []string
}

func (k KeywordTermination) ShouldAgentTerminate(ctx context.Context, agent Agent, history []chatctx.ChatMessage) bool {
	if agent == nil || !agent.IsFacilitator() || len(history) == 0 {
		return false
	}
	content := strings.TrimSpace(history[len(history)-1].Content)
	for _, w := range k.Words {
		if strings.EqualFold(content, w) {
			return true
		}
	}
	return false
}
