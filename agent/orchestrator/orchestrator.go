package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/conversation"
	"github.com/BaSui01/careflow/agent/patient"
	"github.com/BaSui01/careflow/llm"
	"github.com/BaSui01/careflow/types"
)

const tracerName = "github.com/BaSui01/careflow/agent/orchestrator"

// ContextStore reads and writes chat contexts.
type ContextStore interface {
	Read(ctx context.Context, conversationID, patientID string) (*chatctx.ChatContext, error)
	Write(ctx context.Context, cc *chatctx.ChatContext) error
}

// PatientService applies patient-context transitions.
type PatientService interface {
	DecideAndApply(ctx context.Context, text string, cc *chatctx.ChatContext) (patient.Decision, patient.TimingInfo)
	SetExplicitPatientContext(ctx context.Context, pid string, cc *chatctx.ChatContext) (bool, error)
	ClearConversation(ctx context.Context, cc *chatctx.ChatContext) string
	ActivePatientID(ctx context.Context, conversationID string) string
}

// Recorder receives per-turn measurements.
type Recorder interface {
	RecordDecision(decision string, analyzer, service time.Duration)
	RecordAgentTurn(agent string)
	RecordTurn(outcome string, duration time.Duration)
}

// AgentFactory builds one group-chat participant.
type AgentFactory func(cfg types.AgentConfig, roster []types.AgentConfig, cc *chatctx.ChatContext) (conversation.Agent, error)

// Config 编排器配置
type Config struct {
	Agents            []types.AgentConfig
	TenantID          string
	DefaultModel      string
	Strategy          conversation.StrategyConfig
	MaximumIterations int
	MaxResponseTokens int
	PlanGate          bool
	ProbeTimeout      time.Duration
	PersistTimeout    time.Duration
}

// Deps are the collaborators of an Orchestrator. Provider, Contexts and
// Patients are required.
type Deps struct {
	Provider     llm.Provider
	Contexts     ContextStore
	Patients     PatientService
	Busy         BusyGuard
	Signer       *URLSigner
	Metrics      Recorder
	AgentFactory AgentFactory
	Clock        func() time.Time
}

// Turn is one user message.
type Turn struct {
	ConversationID string
	Text           string
	TenantID       string
	// Target is the agent the message was addressed to, if any.
	Target string
}

// Message is one reply delivered to the user.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsBot     bool      `json:"isBot"`
}

// Emitter delivers a reply. An error stops the run.
type Emitter func(Message) error

// Orchestrator runs the per-turn pipeline.
type Orchestrator struct {
	cfg      Config
	roster   []types.AgentConfig
	provider llm.Provider
	contexts ContextStore
	patients PatientService
	busy     BusyGuard
	signer   *URLSigner
	metrics  Recorder
	factory  AgentFactory
	now      func() time.Time
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New 创建编排器
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Provider == nil || deps.Contexts == nil || deps.Patients == nil {
		return nil, fmt.Errorf("provider, context store and patient service are required")
	}
	roster := conversation.Roster(cfg.Agents)
	if len(roster) == 0 {
		return nil, conversation.ErrNoAgents
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		cfg:      cfg,
		roster:   roster,
		provider: deps.Provider,
		contexts: deps.Contexts,
		patients: deps.Patients,
		busy:     deps.Busy,
		signer:   deps.Signer,
		metrics:  deps.Metrics,
		factory:  deps.AgentFactory,
		now:      deps.Clock,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
	if o.busy == nil {
		o.busy = NewMemoryBusyGuard()
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.factory == nil {
		o.factory = o.defaultAgent
	}
	return o, nil
}

// Agents returns the group-chat roster.
func (o *Orchestrator) Agents() []types.AgentConfig {
	return append([]types.AgentConfig(nil), o.roster...)
}

// Facilitator returns the facilitator's name.
func (o *Orchestrator) Facilitator() string {
	f, _ := types.FacilitatorOf(o.roster)
	return f.Name
}

// HandleTurn runs one user turn and emits every reply. The returned error
// is suitable for UserMessage.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn, emit Emitter) (err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(attribute.String("conversation.id", turn.ConversationID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.RecordTurn(outcomeOf(err), time.Since(start))
	}()

	if err := o.authorize(turn.TenantID); err != nil {
		return err
	}
	text := strings.TrimSpace(turn.Text)
	if turn.ConversationID == "" || text == "" {
		return types.NewInvalidRequestError("conversation id and message content are required")
	}

	release, err := o.busy.Acquire(ctx, turn.ConversationID)
	if err != nil {
		return err
	}
	defer release()

	cc := o.load(ctx, turn.ConversationID)

	if IsClearCommand(text) {
		o.clear(ctx, cc)
		return emit(o.systemMessage(ClearReply))
	}

	decision, timing := o.patients.DecideAndApply(ctx, text, cc)
	o.metrics.RecordDecision(string(decision), timing.Analyzer, timing.Service)
	span.SetAttributes(
		attribute.String("patient.decision", string(decision)),
		attribute.String("patient.id", cc.PatientID))

	switch decision {
	case patient.DecisionNeedsPatientID:
		return emit(o.systemMessage(NeedsPatientIDReply))
	case patient.DecisionClear:
		o.persist(ctx, cc)
		return emit(o.systemMessage(ClearReply))
	}

	chatctx.InjectSnapshot(cc, o.now())

	agents, err := o.buildAgents(ctx, cc)
	if err != nil {
		return err
	}
	chat, err := conversation.NewGroupChat(agents, cc, o.chatOptions()...)
	if err != nil {
		return err
	}
	cc.AddUserMessage(text)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var emitErr error
	for resp := range chat.Invoke(runCtx, o.target(turn, agents)) {
		if emitErr != nil {
			continue
		}
		msg := o.botMessage(resp.Speaker, o.augment(resp.Content, cc))
		if emitErr = emit(msg); emitErr != nil {
			cancel()
		}
	}

	// 连接断开时也要保存已产生的进度
	o.persist(ctx, cc)

	if emitErr != nil {
		return fmt.Errorf("failed to deliver reply: %w", emitErr)
	}
	if err := chat.Err(); err != nil {
		o.logger.Warn("group chat ended with error",
			zap.String("conversation_id", cc.ConversationID), zap.Error(err))
		return fmt.Errorf("group chat failed: %w", err)
	}
	return nil
}

// Messages returns the active scope's history and patient id.
func (o *Orchestrator) Messages(ctx context.Context, tenantID, conversationID string) ([]chatctx.ChatMessage, string, error) {
	if err := o.authorize(tenantID); err != nil {
		return nil, "", err
	}
	pid := o.patients.ActivePatientID(ctx, conversationID)
	cc, err := o.contexts.Read(ctx, conversationID, pid)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read chat context: %w", err)
	}
	return chatctx.StripSnapshots(cc.History), pid, nil
}

// SetPatient makes pid the active patient outside the analyzer.
func (o *Orchestrator) SetPatient(ctx context.Context, tenantID, conversationID, pid string) error {
	if err := o.authorize(tenantID); err != nil {
		return err
	}
	release, err := o.busy.Acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer release()

	cc := o.load(ctx, conversationID)
	if _, err := o.patients.SetExplicitPatientContext(ctx, pid, cc); err != nil {
		if errors.Is(err, patient.ErrInvalidPatientID) {
			return types.NewInvalidPatientIDError(pid).WithCause(err)
		}
		return fmt.Errorf("failed to set patient context: %w", err)
	}
	o.persist(ctx, cc)
	return nil
}

// Clear archives the conversation and returns the archive folder.
func (o *Orchestrator) Clear(ctx context.Context, tenantID, conversationID string) (string, error) {
	if err := o.authorize(tenantID); err != nil {
		return "", err
	}
	release, err := o.busy.Acquire(ctx, conversationID)
	if err != nil {
		return "", err
	}
	defer release()

	return o.clear(ctx, o.load(ctx, conversationID)), nil
}

func (o *Orchestrator) authorize(tenantID string) error {
	if o.cfg.TenantID != "" && tenantID != o.cfg.TenantID {
		o.logger.Warn("access denied", zap.String("tenant_id", tenantID))
		return ErrNotAuthorized
	}
	return nil
}

// load reads the session scope; an unreadable stream starts fresh.
func (o *Orchestrator) load(ctx context.Context, conversationID string) *chatctx.ChatContext {
	cc, err := o.contexts.Read(ctx, conversationID, "")
	if err != nil {
		o.logger.Warn("failed to read session context, starting fresh",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return chatctx.New(conversationID)
	}
	return cc
}

func (o *Orchestrator) clear(ctx context.Context, cc *chatctx.ChatContext) string {
	folder := o.patients.ClearConversation(ctx, cc)
	o.persist(ctx, cc)
	o.metrics.RecordDecision(string(patient.DecisionClear), 0, 0)
	return folder
}

// persist writes cc on a context detached from the caller's cancellation.
func (o *Orchestrator) persist(ctx context.Context, cc *chatctx.ChatContext) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()
	if err := o.contexts.Write(ctx, cc); err != nil {
		o.logger.Error("failed to save chat context",
			zap.String("conversation_id", cc.ConversationID),
			zap.String("patient_id", cc.PatientID),
			zap.Error(err))
	}
}

func (o *Orchestrator) buildAgents(ctx context.Context, cc *chatctx.ChatContext) ([]conversation.Agent, error) {
	agents := make([]conversation.Agent, 0, len(o.roster))
	for _, cfg := range o.roster {
		a, err := o.factory(cfg, o.roster, cc)
		if err != nil {
			return nil, fmt.Errorf("failed to build agent %s: %w", cfg.Name, err)
		}
		agents = append(agents, a)
	}

	// 只有快照时说明是新会话
	if len(cc.History) == 1 {
		agents = ProbePresence(ctx, agents, o.cfg.ProbeTimeout, o.logger)
		if len(agents) == 0 {
			return nil, conversation.ErrNoAgents
		}
	}
	return agents, nil
}

func (o *Orchestrator) chatOptions() []conversation.Option {
	return []conversation.Option{
		conversation.WithSelection(conversation.NewLLMSelection(o.provider, o.cfg.Strategy, o.logger,
			conversation.WithPlanGate(o.cfg.PlanGate))),
		conversation.WithTermination(conversation.NewLLMTermination(o.provider, o.cfg.Strategy, o.logger)),
		conversation.WithMaximumIterations(o.cfg.MaximumIterations),
		conversation.WithLogger(o.logger),
		conversation.WithTurnObserver(o.metrics.RecordAgentTurn),
	}
}

// target resolves the pre-designated first speaker. The facilitator is
// never a target since it speaks first anyway.
func (o *Orchestrator) target(turn Turn, agents []conversation.Agent) string {
	names := make([]string, len(agents))
	facilitator := ""
	for i, a := range agents {
		names[i] = a.Name()
		if a.IsFacilitator() {
			facilitator = a.Name()
		}
	}
	name := ParseMention(turn.Target+":", names)
	if name == "" {
		name = ParseMention(turn.Text, names)
	}
	if name == "" || name == facilitator {
		return ""
	}
	return name
}

func (o *Orchestrator) defaultAgent(cfg types.AgentConfig, roster []types.AgentConfig, cc *chatctx.ChatContext) (conversation.Agent, error) {
	return conversation.NewChatCompletionAgent(cfg, roster, cc, o.provider,
		conversation.WithDefaultModel(o.cfg.DefaultModel),
		conversation.WithMaxResponseTokens(o.cfg.MaxResponseTokens),
		conversation.WithAgentLogger(o.logger))
}

func (o *Orchestrator) botMessage(sender, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Timestamp: o.now().UTC(),
		IsBot:     true,
	}
}

func (o *Orchestrator) systemMessage(content string) Message {
	return o.botMessage(SystemSender, content)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, time.Duration, time.Duration) {}
func (nopRecorder) RecordAgentTurn(string)                             {}
func (nopRecorder) RecordTurn(string, time.Duration)                   {}
