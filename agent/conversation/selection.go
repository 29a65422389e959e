package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/llm"
)

// SelectionFormatName names the selection response format.
const SelectionFormatName = "chat_rule_selection"

// LLMSelection asks a model for the next speaker and coerces anything
// outside the roster to the facilitator.
type LLMSelection struct {
	provider llm.Provider
	cfg      StrategyConfig
	planGate bool
	logger   *zap.Logger
}

// SelectionOption configures LLMSelection.
type SelectionOption func(*LLMSelection)

// WithPlanGate toggles the plan confirmation gate. It is on by default.
func WithPlanGate(enabled bool) SelectionOption {
	return func(s *LLMSelection) { s.planGate = enabled }
}

// NewLLMSelection 创建基于 LLM 的发言人选择策略
func NewLLMSelection(provider llm.Provider, cfg StrategyConfig, logger *zap.Logger, opts ...SelectionOption) *LLMSelection {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LLMSelection{
		provider: provider,
		cfg:      cfg.withDefaults(),
		planGate: true,
		logger:   logger.With(zap.String("component", "selection_strategy")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the selected agent. It only fails with ErrNoAgents, or with
// ErrAwaitingUser when the facilitator's plan has not been confirmed yet.
func (s *LLMSelection) Next(ctx context.Context, agents []Agent, history []chatctx.ChatMessage) (Agent, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	facilitator := facilitatorOf(agents)

	if s.planGate && AwaitingPlanConfirmation(history, facilitator.Name()) {
		s.logger.Info("facilitator plan awaits user confirmation", zap.String("facilitator", facilitator.Name()))
		return facilitator, ErrAwaitingUser
	}
	if s.provider == nil {
		return facilitator, nil
	}

	rule, err := askRule(ctx, s.provider, s.cfg, SelectionFormatName, selectionPrompt(agents, facilitator.Name(), history))
	if err != nil {
		s.logger.Warn("selection parsing failed, defaulting to facilitator", zap.Error(err))
		return facilitator, nil
	}
	selected, ok := findAgent(agents, strings.TrimSpace(rule.Verdict))
	if !ok {
		s.logger.Info("selection verdict outside roster, defaulting to facilitator",
			zap.String("verdict", rule.Verdict))
		return facilitator, nil
	}
	s.logger.Debug("next speaker selected",
		zap.String("agent", selected.Name()),
		zap.String("reasoning", rule.Reasoning))
	return selected, nil
}

func selectionPrompt(agents []Agent, facilitator string, history []chatctx.ChatMessage) string {
	var participants strings.Builder
	for _, n := range names(agents) {
		participants.WriteString("\t- ")
		participants.WriteString(n)
		participants.WriteString("\n")
	}
	return fmt.Sprintf(`You are overseeing a group chat between several AI agents and a human user.
Determine which participant takes the next turn in a conversation based on the most recent participant. Follow these guidelines:

1. Participants: Choose only from these participants:
%s
2. General Rules:
	- %[2]s Always Starts: %[2]s always goes first to formulate a plan. If the only message is from the user, %[2]s goes next.
	- Interactions between agents: Agents may talk among themselves. If an agent requires information from another agent, that agent should go next.
		EXAMPLE: "*agent_name*, please provide ..." then agent_name goes next.
	- "back to you *agent_name*": If an agent says "back to you", that agent goes next.
	- Once per turn: Each participant can only speak once per turn.
	- Default to %[2]s: Always default to %[2]s. If no other participant is specified, %[2]s goes next.
	- Use best judgment: If the rules are unclear, use your best judgment to determine who should go next, for the natural flow of the conversation.

Provide your reasoning and then the verdict. The verdict must be exactly one of: %[3]s

History:
%[4]s`, participants.String(), facilitator, strings.Join(names(agents), ", "), FormatHistory(history))
}

var planItem = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+\S`)

// IsPlan reports whether text lays out a multi-step numbered or bulleted plan.
func IsPlan(text string) bool {
	return len(planItem.FindAllStringIndex(text, -1)) >= 2
}

// AwaitingPlanConfirmation reports whether the last message is a plan from
// the facilitator that the user has not answered. A user message that
// itself replied to a facilitator plan counts as confirmation, so the
// facilitator restating its plan afterwards does not gate again.
func AwaitingPlanConfirmation(history []chatctx.ChatMessage, facilitator string) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role != chatctx.RoleAssistant || last.Name != facilitator || !IsPlan(last.Content) {
		return false
	}
	for i := len(history) - 2; i >= 0; i-- {
		if history[i].Role != chatctx.RoleUser {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			prev := history[j]
			if chatctx.IsSnapshotMessage(prev) {
				continue
			}
			return !(prev.Role == chatctx.RoleAssistant && prev.Name == facilitator && IsPlan(prev.Content))
		}
		return true
	}
	return true
}

// RoundRobinSelection cycles through the roster starting at the facilitator.
type RoundRobinSelection struct {
	current int
}

func (s *RoundRobinSelection) Next(ctx context.Context, agents []Agent, history []chatctx.ChatMessage) (Agent, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	start := 0
	for i, a := range agents {
		if a.IsFacilitator() {
			start = i
			break
		}
	}
	agent := agents[(start+s.current)%len(agents)]
	s.current++
	return agent, nil
}
