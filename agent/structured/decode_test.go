package structured

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BaSui01/careflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rule struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

func ruleSchema() *JSONSchema {
	return NewObjectSchema().
		AddProperty("verdict", NewEnumSchema("yes", "no")).
		AddProperty("reasoning", NewStringSchema())
}

type stubProvider struct {
	content string
	err     error
	lastReq *llm.ChatRequest
}

func (s *stubProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: s.content}}}}, nil
}

func (s *stubProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (s *stubProvider) Name() string { return "stub" }

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", `Sure! {"a":1} hope that helps`, `{"a":1}`},
		{"none", `nothing here`, `nothing here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestDecodeOrDefault(t *testing.T) {
	fallback := rule{Verdict: "no"}

	t.Run("valid", func(t *testing.T) {
		got, err := DecodeOrDefault(`{"verdict":"yes","reasoning":"asks user"}`, ruleSchema(), fallback)
		require.NoError(t, err)
		assert.Equal(t, "yes", got.Verdict)
	})

	t.Run("enum violation", func(t *testing.T) {
		got, err := DecodeOrDefault(`{"verdict":"maybe","reasoning":""}`, ruleSchema(), fallback)
		require.Error(t, err)
		var ve *ValidationErrors
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, fallback, got)
	})

	t.Run("missing field", func(t *testing.T) {
		got, err := DecodeOrDefault(`{"verdict":"yes"}`, ruleSchema(), fallback)
		require.Error(t, err)
		assert.Equal(t, fallback, got)
	})

	t.Run("extra field", func(t *testing.T) {
		_, err := DecodeOrDefault(`{"verdict":"yes","reasoning":"","x":1}`, ruleSchema(), fallback)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		got, err := DecodeOrDefault(`not json`, ruleSchema(), fallback)
		require.Error(t, err)
		assert.Equal(t, fallback, got)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := DecodeOrDefault(``, ruleSchema(), fallback)
		require.Error(t, err)
	})
}

func TestNullableSchema(t *testing.T) {
	schema := NewObjectSchema().
		AddProperty("patient_id", NewStringSchema().AsNullable())

	raw, err := schema.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "object", decoded["type"])
	assert.Equal(t, false, decoded["additionalProperties"])
	props := decoded["properties"].(map[string]any)
	assert.Equal(t, []any{"string", "null"}, props["patient_id"].(map[string]any)["type"])

	v := NewValidator()
	assert.NoError(t, v.Validate([]byte(`{"patient_id":null}`), schema))
	assert.NoError(t, v.Validate([]byte(`{"patient_id":"patient_4"}`), schema))
	assert.Error(t, v.Validate([]byte(`{"patient_id":4}`), schema))
}

func TestCall(t *testing.T) {
	fallback := rule{Verdict: "no"}

	t.Run("success sets response format", func(t *testing.T) {
		p := &stubProvider{content: `{"verdict":"yes","reasoning":"r"}`}
		got, err := Call(context.Background(), p, &llm.ChatRequest{}, "chat_rule", ruleSchema(), fallback)
		require.NoError(t, err)
		assert.Equal(t, "yes", got.Verdict)
		require.NotNil(t, p.lastReq.ResponseFormat)
		assert.Equal(t, "chat_rule", p.lastReq.ResponseFormat.Name)
		assert.True(t, p.lastReq.ResponseFormat.Strict)
	})

	t.Run("provider error", func(t *testing.T) {
		p := &stubProvider{err: errors.New("down")}
		got, err := Call(context.Background(), p, &llm.ChatRequest{}, "chat_rule", ruleSchema(), fallback)
		require.Error(t, err)
		assert.Equal(t, fallback, got)
	})

	t.Run("nil provider", func(t *testing.T) {
		got, err := Call[rule](context.Background(), nil, &llm.ChatRequest{}, "chat_rule", ruleSchema(), fallback)
		require.Error(t, err)
		assert.Equal(t, fallback, got)
	})
}
