package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/BaSui01/careflow/internal/tlsutil"
	"github.com/BaSui01/careflow/llm"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerName = "openai"

// Config OpenAI / Azure OpenAI Provider 配置
type Config struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Azure 为 true 时 BaseURL 是资源端点，Model 是部署名
	Azure      bool   `json:"azure,omitempty" yaml:"azure,omitempty"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
}

// Provider implements llm.Provider over the go-openai client.
type Provider struct {
	client *goopenai.Client
	cfg    Config
	logger *zap.Logger
}

// NewProvider creates a provider. An empty Model defaults to gpt-4o.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	var clientCfg goopenai.ClientConfig
	if cfg.Azure {
		clientCfg = goopenai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Model
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	} else {
		clientCfg = goopenai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}
	clientCfg.HTTPClient = tlsutil.SecureHTTPClient(cfg.Timeout)

	return &Provider{
		client: goopenai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "llm_openai")),
	}
}

func (p *Provider) Name() string { return providerName }

// Completion sends one chat completion request.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "nil chat request", Provider: providerName}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	oaReq := p.buildRequest(req)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		mapped := mapError(err)
		p.logger.Warn("chat completion failed",
			zap.String("model", oaReq.Model),
			zap.String("code", string(mapped.Code)),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return nil, mapped
	}

	p.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	return toChatResponse(resp), nil
}

// HealthCheck lists models as a cheap reachability probe.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.ListModels(ctx)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, mapError(err)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest) goopenai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    convertRole(m.Role),
			Content: m.Content,
			Name:    sanitizeName(m.Name),
		})
	}

	out := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Seed:     req.Seed,
	}

	if llm.SupportsTemperature(model) {
		out.MaxTokens = req.MaxTokens
		// go-openai omits a zero temperature, which the API reads as 1.
		if req.Temperature == 0 {
			out.Temperature = math.SmallestNonzeroFloat32
		} else {
			out.Temperature = req.Temperature
		}
	} else {
		out.MaxCompletionTokens = req.MaxTokens
	}

	if rf := req.ResponseFormat; rf != nil {
		out.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   rf.Name,
				Schema: rf.Schema,
				Strict: rf.Strict,
			},
		}
	}

	return out
}

func convertRole(r llm.Role) string {
	switch r {
	case llm.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case llm.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	case llm.RoleTool:
		// tool results without a call id are replayed as assistant text
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}

// sanitizeName keeps only characters the API accepts in the name field.
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func toChatResponse(resp goopenai.ChatCompletionResponse) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: string(c.FinishReason),
			Message: llm.Message{
				Role:    llm.Role(c.Message.Role),
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
		})
	}

	return &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Choices:  choices,
		Usage: llm.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
}

// mapError 将 go-openai 错误映射为 llm.Error
func mapError(err error) *llm.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: err.Error(), Retryable: true, Provider: providerName}
	}

	status := 0
	msg := err.Error()

	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		msg = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: providerName}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case status == http.StatusBadRequest:
		e.Code = llm.ErrInvalidRequest
	case status >= 500 || status == 0:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Message = fmt.Sprintf("unexpected status %d: %s", status, msg)
	}
	return e
}
