package patient

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/structured"
	"github.com/BaSui01/careflow/llm"
)

const (
	// DecisionFormatName names the analyzer's structured output.
	DecisionFormatName = "patient_context_decision"

	// NoRelevantInformation is what Summarize returns when nothing applies.
	NoRelevantInformation = "NO_RELEVANT_PATIENT_INFORMATION"
)

// AnalyzerConfig 分析器配置
type AnalyzerConfig struct {
	Model            string        `json:"model" yaml:"model"`
	Temperature      float32       `json:"temperature" yaml:"temperature"`
	MaxTokens        int           `json:"max_tokens" yaml:"max_tokens"`
	SummaryMaxTokens int           `json:"summary_max_tokens" yaml:"summary_max_tokens"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultAnalyzerConfig returns temperature 0.1 and 200 output tokens.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Model:            "gpt-4o",
		Temperature:      0.1,
		MaxTokens:        200,
		SummaryMaxTokens: 300,
		Timeout:          15 * time.Second,
	}
}

// DecisionSchema is the closed schema the model must answer with.
func DecisionSchema() *structured.JSONSchema {
	actions := make([]string, 0, len(AllActions()))
	for _, a := range AllActions() {
		actions = append(actions, string(a))
	}
	return structured.NewObjectSchema().
		AddProperty("action", structured.NewEnumSchema(actions...).
			WithDescription("The action to take: NONE, CLEAR, ACTIVATE_NEW, SWITCH_EXISTING, or UNCHANGED")).
		AddProperty("patient_id", structured.NewStringSchema().AsNullable().
			WithDescription("The patient ID if the action involves a specific patient (format: patient_X)")).
		AddProperty("reasoning", structured.NewStringSchema().
			WithDescription("Brief explanation of the decision (max 50 words)"))
}

// Analyzer classifies a user message into a patient-context Action.
// A single instance serves every conversation, so classification is a pure
// function of its inputs. The only state is a summary memo keyed by patient
// and text, which Reset discards.
type Analyzer struct {
	provider llm.Provider
	cfg      AnalyzerConfig
	schema   *structured.JSONSchema
	logger   *zap.Logger

	mu        sync.Mutex
	summaries map[string]string
	resets    atomic.Uint64
}

// NewAnalyzer 创建患者上下文分析器
func NewAnalyzer(provider llm.Provider, cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAnalyzerConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = def.SummaryMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Analyzer{
		provider:  provider,
		cfg:       cfg,
		schema:    DecisionSchema(),
		logger:    logger.With(zap.String("component", "patient_context_analyzer")),
		summaries: make(map[string]string),
	}
}

// Analyze returns the classification and how long it took.
// It never fails: any error degrades to NONE.
func (a *Analyzer) Analyze(ctx context.Context, text, priorPatientID string, known []string) (AnalyzerResult, time.Duration) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return noneResult("Empty or whitespace user input; no action needed."), time.Since(start)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req := &llm.ChatRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(priorPatientID, known)},
			{Role: llm.RoleUser, Content: "User input: " + text},
		},
	}

	result, err := structured.Call(ctx, a.provider, req, DecisionFormatName, a.schema,
		noneResult("Analyzer failure; defaulting to NONE."))
	if err != nil {
		a.logger.Warn("patient context analysis failed, defaulting to NONE", zap.Error(err))
	}
	result = normalize(result)

	a.logger.Info("patient context decision",
		zap.String("action", string(result.Action)),
		zap.String("patient_id", result.PatientIDOrEmpty()),
		zap.String("reasoning", result.Reasoning),
		zap.Duration("duration", time.Since(start)))
	return result, time.Since(start)
}

// normalize enforces that patient_id accompanies only ACTIVATE_NEW and SWITCH_EXISTING.
func normalize(r AnalyzerResult) AnalyzerResult {
	valid := false
	for _, act := range AllActions() {
		if r.Action == act {
			valid = true
			break
		}
	}
	if !valid {
		return noneResult(fmt.Sprintf("Unknown action %q; defaulting to NONE.", r.Action))
	}
	if !r.Action.CarriesPatientID() {
		r.PatientID = nil
		return r
	}
	if r.PatientID != nil {
		pid := strings.TrimSpace(*r.PatientID)
		if pid == "" {
			r.PatientID = nil
		} else {
			r.PatientID = &pid
		}
	}
	return r
}

func systemPrompt(priorPatientID string, known []string) string {
	active := priorPatientID
	if active == "" {
		active = "None"
	}
	var b strings.Builder
	b.WriteString("You classify whether a healthcare chat message changes which patient is being discussed.\n\n")
	b.WriteString("ACTIONS:\n")
	b.WriteString("- NONE: no patient context needed (greetings, general questions, system commands)\n")
	b.WriteString("- CLEAR: the user wants to reset all patient context\n")
	b.WriteString("- ACTIVATE_NEW: the user names a patient ID that is not in the known list\n")
	b.WriteString("- SWITCH_EXISTING: the user wants a different patient from the known list\n")
	b.WriteString("- UNCHANGED: the message continues with the active patient\n\n")
	b.WriteString("STATE:\n")
	fmt.Fprintf(&b, "- Active patient ID: %s\n", active)
	fmt.Fprintf(&b, "- Known patient IDs: [%s]\n", strings.Join(known, ", "))

	b.WriteString("\nRULES:\n")
	b.WriteString("1. Set patient_id only for ACTIVATE_NEW or SWITCH_EXISTING, otherwise null.\n")
	b.WriteString("2. Patient IDs look like \"patient_X\".\n")
	b.WriteString("3. Explicit patient mentions win over implicit context.\n")
	b.WriteString("4. Keep reasoning under 50 words.\n")
	return b.String()
}

// Reset discards session state so nothing carries over between patients.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.summaries = make(map[string]string)
	a.mu.Unlock()
	a.resets.Add(1)
	a.logger.Info("analyzer session state reset")
}

// Resets counts Reset calls.
func (a *Analyzer) Resets() uint64 {
	return a.resets.Load()
}

// Summarize digests text strictly for patientID. When nothing applies the
// model answers NoRelevantInformation, which IsBuildingContext recognizes.
func (a *Analyzer) Summarize(ctx context.Context, text, patientID string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return NoRelevantInformation, nil
	}
	memoKey := patientID + "\x00" + text

	a.mu.Lock()
	if s, ok := a.summaries[memoKey]; ok {
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("Summarize only what the text says about %s in at most three sentences. "+
		"Ignore every other patient. If nothing is about %s, answer exactly %s.",
		patientID, patientID, NoRelevantInformation)
	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.SummaryMaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	summary, err := llm.FirstContent(resp)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.summaries[memoKey] = summary
	a.mu.Unlock()
	return summary, nil
}

var sentinelPattern = regexp.MustCompile(`(?i)^\W*no[\s_]+relevant[\s_]+patient[\s_]+information\W*$`)

// IsBuildingContext reports whether summary is the no-information sentinel.
func IsBuildingContext(summary string) bool {
	return sentinelPattern.MatchString(strings.TrimSpace(summary))
}
