package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
)

// DefaultMaximumIterations bounds the agent turns of one run.
const DefaultMaximumIterations = 30

// Option configures a GroupChat.
type Option func(*GroupChat)

func WithSelection(s SelectionStrategy) Option {
	return func(g *GroupChat) {
		if s != nil {
			g.selection = s
		}
	}
}

func WithTermination(t TerminationStrategy) Option {
	return func(g *GroupChat) {
		if t != nil {
			g.termination = t
		}
	}
}

// WithMaximumIterations sets the ceiling on counted agent turns.
func WithMaximumIterations(n int) Option {
	return func(g *GroupChat) {
		if n > 0 {
			g.maxIterations = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *GroupChat) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTurnObserver registers fn to be called after every appended response.
func WithTurnObserver(fn func(speaker string)) Option {
	return func(g *GroupChat) { g.observe = fn }
}

// GroupChat runs the select, respond and terminate loop over a shared history.
// Responses are appended to the ChatContext's History; callers must not touch
// it until the channel returned by Invoke is closed.
type GroupChat struct {
	agents        []Agent
	facilitator   Agent
	cc            *chatctx.ChatContext
	selection     SelectionStrategy
	termination   TerminationStrategy
	maxIterations int
	observe       func(speaker string)
	logger        *zap.Logger

	mu         sync.Mutex
	running    bool
	complete   bool
	iterations int
	err        error
}

// NewGroupChat 创建群聊。主持人为带标记的 Agent，否则为第一个。
func NewGroupChat(agents []Agent, cc *chatctx.ChatContext, opts ...Option) (*GroupChat, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	if cc == nil {
		return nil, fmt.Errorf("chat context is required")
	}
	g := &GroupChat{
		agents:        agents,
		facilitator:   facilitatorOf(agents),
		cc:            cc,
		selection:     &RoundRobinSelection{},
		termination:   KeywordTermination{},
		maxIterations: DefaultMaximumIterations,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(
		zap.String("component", "group_chat"),
		zap.String("conversation_id", cc.ConversationID))
	return g, nil
}

// Facilitator returns the agent that starts runs and decides termination.
func (g *GroupChat) Facilitator() Agent { return g.facilitator }

// Agents returns the roster.
func (g *GroupChat) Agents() []Agent { return append([]Agent(nil), g.agents...) }

// Invoke starts a run and streams each appended response. target names a
// pre-designated first speaker; "" lets the selection strategy choose.
// The channel closes on termination, on the iteration ceiling, on error,
// or when ctx is done. Err reports why a run stopped early. A call made
// while another run is in progress gets an already closed channel.
func (g *GroupChat) Invoke(ctx context.Context, target string) <-chan Response {
	out, err := g.Start(ctx, target)
	if err != nil {
		g.logger.Warn("group chat not started", zap.String("target", target), zap.Error(err))
		closed := make(chan Response)
		close(closed)
		return closed
	}
	return out
}

// Start is Invoke with the start-up failures returned: ErrAgentBusy while a
// run is in progress and ErrUnknownAgent for a target outside the roster.
func (g *GroupChat) Start(ctx context.Context, target string) (<-chan Response, error) {
	var first Agent
	if target != "" {
		a, ok := findAgent(g.agents, target)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, target)
		}
		first = a
	}

	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil, ErrAgentBusy
	}
	g.running = true
	g.complete = false
	g.iterations = 0
	g.err = nil
	g.mu.Unlock()

	out := make(chan Response)
	go g.run(ctx, first, out)
	return out, nil
}

// Err returns the error that ended the last run, or nil.
func (g *GroupChat) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// IsComplete reports whether the last run ended by yielding to the user.
func (g *GroupChat) IsComplete() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.complete
}

// Iterations returns the counted agent turns of the last run.
func (g *GroupChat) Iterations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.iterations
}

// Running reports whether a run is in progress.
func (g *GroupChat) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *GroupChat) run(ctx context.Context, next Agent, out chan<- Response) {
	defer close(out)

	// empty replies are not counted, so bound the attempts separately
	attempts := 0
	for g.Iterations() < g.maxIterations && attempts < 2*g.maxIterations {
		if err := ctx.Err(); err != nil {
			g.finish(err, false)
			return
		}
		attempts++

		agent := next
		next = nil
		if agent == nil {
			selected, err := g.selection.Next(ctx, g.agents, g.cc.History)
			if errors.Is(err, ErrAwaitingUser) {
				g.finish(nil, true)
				return
			}
			if err != nil {
				g.finish(fmt.Errorf("selection failed: %w", err), false)
				return
			}
			agent = selected
		}

		content, err := agent.Invoke(ctx, append([]chatctx.ChatMessage(nil), g.cc.History...))
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			g.logger.Warn("agent invocation failed", zap.String("agent", agent.Name()), zap.Error(err))
			g.finish(fmt.Errorf("agent %s failed: %w", agent.Name(), err), false)
			return
		}
		if strings.TrimSpace(content) == "" {
			g.logger.Debug("empty response skipped", zap.String("agent", agent.Name()))
			continue
		}

		g.cc.AddMessage(chatctx.AgentMessage(agent.Name(), content))
		g.mu.Lock()
		g.iterations++
		g.mu.Unlock()
		if g.observe != nil {
			g.observe(agent.Name())
		}

		select {
		case out <- Response{Speaker: agent.Name(), Content: content}:
		case <-ctx.Done():
			g.finish(ctx.Err(), false)
			return
		}

		if g.termination.ShouldAgentTerminate(ctx, agent, g.cc.History) {
			g.finish(nil, true)
			return
		}
	}

	g.logger.Warn("group chat stopped at iteration ceiling",
		zap.Int("iterations", g.Iterations()),
		zap.Int("maximum", g.maxIterations))
	g.finish(nil, false)
}

func (g *GroupChat) finish(err error, complete bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
	g.complete = complete
	g.err = err
}
