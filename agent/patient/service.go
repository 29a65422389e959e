package patient

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
	"github.com/BaSui01/careflow/agent/persistence"
)

// DefaultPatientIDPattern matches ids like "patient_4".
const DefaultPatientIDPattern = `^patient_[0-9]+$`

// Classifier is the analyzer surface the service depends on.
type Classifier interface {
	Analyze(ctx context.Context, text, priorPatientID string, known []string) (AnalyzerResult, time.Duration)
	Reset()
}

// RegistryStore is the registry surface the service depends on.
type RegistryStore interface {
	ReadRegistry(ctx context.Context, conversationID string) (map[string]persistence.RegistryEntry, string, error)
	UpdatePatientRegistry(ctx context.Context, conversationID, patientID string, entry persistence.RegistryEntry, activeID string) error
	ArchiveRegistryToFolder(ctx context.Context, conversationID, folder string) error
}

// ContextStore is the chat-context surface the service depends on.
type ContextStore interface {
	Read(ctx context.Context, conversationID, patientID string) (*chatctx.ChatContext, error)
	ArchiveToFolder(ctx context.Context, conversationID, patientID, folder string) error
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	// PatientIDPattern validates analyzer and explicit ids
	PatientIDPattern string `json:"patient_id_pattern" yaml:"patient_id_pattern"`

	// ShortMessageMaxLen is the trimmed length at or below which the analyzer is skipped
	ShortMessageMaxLen int `json:"short_message_max_len" yaml:"short_message_max_len"`

	// ShortMessageKeywords force analysis of short messages that contain them
	ShortMessageKeywords []string `json:"short_message_keywords" yaml:"short_message_keywords"`
}

// DefaultServiceConfig returns the defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PatientIDPattern:     DefaultPatientIDPattern,
		ShortMessageMaxLen:   15,
		ShortMessageKeywords: []string{"patient", "clear", "switch"},
	}
}

// Service applies one patient-context transition per user turn.
// The registry is authoritative; the in-memory roster is rebuilt every turn.
type Service struct {
	classifier Classifier
	registry   RegistryStore
	contexts   ContextStore
	pattern    *regexp.Regexp
	cfg        ServiceConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewService 创建患者上下文服务
func NewService(classifier Classifier, registry RegistryStore, contexts ContextStore, cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PatientIDPattern == "" {
		cfg.PatientIDPattern = DefaultPatientIDPattern
	}
	if cfg.ShortMessageMaxLen <= 0 {
		cfg.ShortMessageMaxLen = DefaultServiceConfig().ShortMessageMaxLen
	}
	if cfg.ShortMessageKeywords == nil {
		cfg.ShortMessageKeywords = DefaultServiceConfig().ShortMessageKeywords
	}
	pattern, err := regexp.Compile(cfg.PatientIDPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid patient id pattern: %w", err)
	}
	return &Service{
		classifier: classifier,
		registry:   registry,
		contexts:   contexts,
		pattern:    pattern,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "patient_context_service")),
	}, nil
}

// ValidPatientID reports whether id matches the configured pattern.
func (s *Service) ValidPatientID(id string) bool {
	return id != "" && s.pattern.MatchString(id)
}

// DecideAndApply classifies text and mutates cc into the resulting scope.
// It always returns one of the seven decisions.
func (s *Service) DecideAndApply(ctx context.Context, text string, cc *chatctx.ChatContext) (Decision, TimingInfo) {
	start := time.Now()
	var timing TimingInfo
	finish := func(d Decision) (Decision, TimingInfo) {
		timing.Service = time.Since(start)
		s.logger.Info("patient context decision applied",
			zap.String("conversation_id", cc.ConversationID),
			zap.String("decision", string(d)),
			zap.String("patient_id", cc.PatientID),
			zap.Duration("analyzer", timing.Analyzer),
			zap.Duration("storage_fallback", timing.StorageFallback),
			zap.Duration("service", timing.Service))
		return d, timing
	}

	// 1. 从注册表重建
	active := s.hydrate(ctx, cc)

	// 2. 静默恢复
	resumed := false
	if cc.PatientID == "" && active != "" {
		fb := time.Now()
		resumed = s.resume(ctx, cc, active)
		timing.StorageFallback = time.Since(fb)
	}
	keep := func() Decision {
		switch {
		case resumed:
			return DecisionRestored
		case cc.PatientID == "":
			return DecisionNone
		default:
			return DecisionUnchanged
		}
	}

	// 3. 短消息启发式
	if s.isShortMessage(text) {
		return finish(keep())
	}

	// 4. 分类
	result, analyzerDur := s.classifier.Analyze(ctx, text, cc.PatientID, cc.KnownPatientIDs())
	timing.Analyzer = analyzerDur

	// 5. 迁移
	switch result.Action {
	case ActionClear:
		s.ClearConversation(ctx, cc)
		return finish(DecisionClear)

	case ActionActivateNew, ActionSwitchExisting:
		pid := result.PatientIDOrEmpty()
		if !s.ValidPatientID(pid) {
			s.logger.Info("analyzer returned an invalid patient id",
				zap.String("conversation_id", cc.ConversationID),
				zap.String("candidate", pid))
			return finish(DecisionNeedsPatientID)
		}
		d, err := s.activate(ctx, pid, cc)
		if err != nil {
			s.logger.Warn("patient activation incomplete",
				zap.String("conversation_id", cc.ConversationID),
				zap.String("patient_id", pid),
				zap.Error(err))
		}
		if d == DecisionUnchanged && resumed {
			d = DecisionRestored
		}
		return finish(d)

	case ActionUnchanged:
		if resumed {
			return finish(DecisionRestored)
		}
		return finish(DecisionUnchanged)

	default:
		return finish(keep())
	}
}

// SetExplicitPatientContext forces pid active outside the analyzer.
// It returns false with ErrInvalidPatientID when pid fails the pattern.
func (s *Service) SetExplicitPatientContext(ctx context.Context, pid string, cc *chatctx.ChatContext) (bool, error) {
	if !s.ValidPatientID(pid) {
		return false, fmt.Errorf("%w: %q", ErrInvalidPatientID, pid)
	}
	s.hydrate(ctx, cc)

	if cc.PatientID == pid {
		if !cc.HasPatient(pid) {
			cc.PatientContexts[pid] = chatctx.NewPatientContext(cc.ConversationID, pid)
		}
		return true, s.upsertActive(ctx, cc)
	}

	d, err := s.activate(ctx, pid, cc)
	if err != nil {
		return cc.PatientID == pid, err
	}
	s.logger.Info("explicit patient context set",
		zap.String("conversation_id", cc.ConversationID),
		zap.String("patient_id", pid),
		zap.String("decision", string(d)))
	return true, nil
}

// ActivePatientID returns the registry's active patient, or "" when none is
// active or the registry cannot be read.
func (s *Service) ActivePatientID(ctx context.Context, conversationID string) string {
	if s.registry == nil {
		return ""
	}
	entries, active, err := s.registry.ReadRegistry(ctx, conversationID)
	if err != nil {
		return ""
	}
	if _, ok := entries[active]; !ok {
		return ""
	}
	return active
}

// ClearConversation archives the session stream, every known patient stream
// and the registry into one folder, then empties cc. Archive failures are
// logged and never stop the clear.
func (s *Service) ClearConversation(ctx context.Context, cc *chatctx.ChatContext) string {
	s.classifier.Reset()

	ids := map[string]struct{}{}
	for _, id := range cc.KnownPatientIDs() {
		ids[id] = struct{}{}
	}
	if cc.PatientID != "" {
		ids[cc.PatientID] = struct{}{}
	}
	if s.registry != nil {
		if entries, _, err := s.registry.ReadRegistry(ctx, cc.ConversationID); err == nil {
			for id := range entries {
				ids[id] = struct{}{}
			}
		}
	}
	all := make([]string, 0, len(ids))
	for id := range ids {
		all = append(all, id)
	}
	sort.Strings(all)

	folder := persistence.ArchiveFolder(s.now())
	log := s.logger.With(zap.String("conversation_id", cc.ConversationID), zap.String("folder", folder))

	if s.contexts != nil {
		if err := s.contexts.ArchiveToFolder(ctx, cc.ConversationID, "", folder); err != nil {
			log.Warn("archive session failed", zap.Error(err))
		}
		for _, id := range all {
			if err := s.contexts.ArchiveToFolder(ctx, cc.ConversationID, id, folder); err != nil {
				log.Warn("archive patient failed", zap.String("patient_id", id), zap.Error(err))
			}
		}
	}
	if s.registry != nil {
		if err := s.registry.ArchiveRegistryToFolder(ctx, cc.ConversationID, folder); err != nil {
			log.Warn("archive registry failed", zap.Error(err))
		}
	}

	resetScope(cc, "")
	cc.ResetPatientContexts()
	log.Info("conversation cleared", zap.Strings("patients", all))
	return folder
}

// hydrate rebuilds cc.PatientContexts from the registry and returns its active id.
func (s *Service) hydrate(ctx context.Context, cc *chatctx.ChatContext) string {
	if s.registry == nil {
		return ""
	}
	entries, active, err := s.registry.ReadRegistry(ctx, cc.ConversationID)
	if err != nil {
		s.logger.Warn("failed to load patient contexts from registry",
			zap.String("conversation_id", cc.ConversationID), zap.Error(err))
		return ""
	}
	cc.ResetPatientContexts()
	for pid, entry := range entries {
		pc := chatctx.NewPatientContext(cc.ConversationID, pid)
		for k, v := range entry.Facts {
			pc.Facts[k] = v
		}
		cc.PatientContexts[pid] = pc
	}
	if _, ok := entries[active]; !ok {
		return ""
	}
	return active
}

// resume adopts the registry's active patient and its isolated stream.
func (s *Service) resume(ctx context.Context, cc *chatctx.ChatContext, active string) bool {
	if s.contexts == nil {
		return false
	}
	loaded, err := s.contexts.Read(ctx, cc.ConversationID, active)
	if err != nil {
		s.logger.Warn("restore from registry failed",
			zap.String("conversation_id", cc.ConversationID),
			zap.String("patient_id", active),
			zap.Error(err))
		return false
	}
	adopt(cc, loaded)
	return true
}

// activate switches cc to pid. The registry entry and active pointer are
// written before it returns.
func (s *Service) activate(ctx context.Context, pid string, cc *chatctx.ChatContext) (Decision, error) {
	if cc.PatientID == pid {
		return DecisionUnchanged, nil
	}

	known := cc.HasPatient(pid)
	var loaded *chatctx.ChatContext
	if known && s.contexts != nil {
		var err error
		loaded, err = s.contexts.Read(ctx, cc.ConversationID, pid)
		if err != nil {
			// keep the current scope rather than overwrite pid's stream later
			return keepDecision(cc), fmt.Errorf("failed to load patient stream: %w", err)
		}
	}

	if cc.PatientID != "" {
		s.classifier.Reset()
	}

	decision := DecisionNewBlank
	if known {
		decision = DecisionSwitchExisting
	}
	if loaded != nil {
		adopt(cc, loaded)
	} else {
		resetScope(cc, pid)
	}
	if !cc.HasPatient(pid) {
		cc.PatientContexts[pid] = chatctx.NewPatientContext(cc.ConversationID, pid)
	}
	return decision, s.upsertActive(ctx, cc)
}

func (s *Service) upsertActive(ctx context.Context, cc *chatctx.ChatContext) error {
	if s.registry == nil || cc.PatientID == "" {
		return nil
	}
	entry := persistence.RegistryEntry{
		PatientID:      cc.PatientID,
		ConversationID: cc.ConversationID,
	}
	if pc := cc.PatientContexts[cc.PatientID]; pc != nil {
		entry.Facts = pc.Facts
	}
	if err := s.registry.UpdatePatientRegistry(ctx, cc.ConversationID, cc.PatientID, entry, cc.PatientID); err != nil {
		return fmt.Errorf("failed registry update: %w", err)
	}
	return nil
}

func (s *Service) isShortMessage(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > s.cfg.ShortMessageMaxLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range s.cfg.ShortMessageKeywords {
		if strings.Contains(lower, k) {
			return false
		}
	}
	return true
}

func keepDecision(cc *chatctx.ChatContext) Decision {
	if cc.PatientID == "" {
		return DecisionNone
	}
	return DecisionUnchanged
}

// adopt swaps every per-scope field of cc for loaded's. Partial merges are
// never done: the history comes wholesale from one stream.
func adopt(cc, loaded *chatctx.ChatContext) {
	cc.PatientID = loaded.PatientID
	cc.History = loaded.History
	cc.WorkflowSummary = loaded.WorkflowSummary
	cc.PatientData = loaded.PatientData
	cc.DisplayBlobURLs = loaded.DisplayBlobURLs
	cc.DisplayImageURLs = loaded.DisplayImageURLs
	cc.DisplayClinicalTrials = loaded.DisplayClinicalTrials
	cc.OutputData = loaded.OutputData
	if loaded.HealthcareAgents != nil {
		cc.HealthcareAgents = loaded.HealthcareAgents
	}
}

// resetScope points cc at an empty stream for pid ("" for session).
func resetScope(cc *chatctx.ChatContext, pid string) {
	cc.PatientID = pid
	cc.History = nil
	cc.WorkflowSummary = ""
	cc.PatientData = nil
	cc.DisplayBlobURLs = nil
	cc.DisplayImageURLs = nil
	cc.DisplayClinicalTrials = nil
	cc.OutputData = nil
	cc.HealthcareAgents = make(map[string]any)
}
