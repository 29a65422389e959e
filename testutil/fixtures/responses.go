// =============================================================================
// 📦 测试数据工厂 - 响应样例
// =============================================================================
// 提供 ChatResponse 与结构化输出 JSON 样例
// =============================================================================
package fixtures

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/careflow/llm"
)

// SimpleResponse 返回单个选项的响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "fixture-response",
		Provider: "mock",
		Model:    "gpt-4o",
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     SmallUsage(),
		CreatedAt: time.Now(),
	}
}

// EmptyResponse 返回没有选项的响应
func EmptyResponse() *llm.ChatResponse {
	return &llm.ChatResponse{ID: "fixture-empty", Provider: "mock"}
}

// SmallUsage 返回小额 Token 用量
func SmallUsage() llm.ChatUsage {
	return llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
}

// AnalyzerJSON 构造患者上下文分析器的结构化输出；patientID 为空时输出 null
func AnalyzerJSON(action, patientID, reasoning string) string {
	doc := map[string]any{"action": action, "patient_id": nil, "reasoning": reasoning}
	if patientID != "" {
		doc["patient_id"] = patientID
	}
	return mustJSON(doc)
}

// ChatRuleJSON 构造选择/终止策略的结构化输出
func ChatRuleJSON(verdict, reasoning string) string {
	return mustJSON(map[string]any{"verdict": verdict, "reasoning": reasoning})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
