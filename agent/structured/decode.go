package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/careflow/llm"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls a JSON object out of a response that may carry
// markdown fences or surrounding prose.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fencedJSON.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return response
}

// Decode validates raw against schema and unmarshals it into T.
func Decode[T any](raw string, schema *JSONSchema) (T, error) {
	var value T
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return value, fmt.Errorf("empty structured response")
	}
	if schema != nil {
		if err := NewValidator().Validate([]byte(jsonStr), schema); err != nil {
			return value, err
		}
	}
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		return value, fmt.Errorf("failed to decode structured response: %w", err)
	}
	return value, nil
}

// DecodeOrDefault is Decode that returns fallback on any failure.
// The error is still returned so callers can log it.
func DecodeOrDefault[T any](raw string, schema *JSONSchema, fallback T) (T, error) {
	value, err := Decode[T](raw, schema)
	if err != nil {
		return fallback, err
	}
	return value, nil
}

// Call performs one schema-constrained completion and decodes the result.
// Transport errors, empty choices and invalid documents all yield fallback.
func Call[T any](ctx context.Context, provider llm.Provider, req *llm.ChatRequest, name string, schema *JSONSchema, fallback T) (T, error) {
	if provider == nil {
		return fallback, fmt.Errorf("provider is nil")
	}

	schemaJSON, err := schema.ToJSON()
	if err != nil {
		return fallback, fmt.Errorf("failed to marshal schema: %w", err)
	}
	req.ResponseFormat = &llm.ResponseFormat{Name: name, Schema: schemaJSON, Strict: true}

	resp, err := provider.Completion(ctx, req)
	if err != nil {
		return fallback, fmt.Errorf("provider completion failed: %w", err)
	}
	raw, err := llm.FirstContent(resp)
	if err != nil {
		return fallback, err
	}
	return DecodeOrDefault(raw, schema, fallback)
}
