package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔符开销
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度
	MaxTokens() int

	// Name 返回分词器名称
	Name() string
}

// Message 是 tokenizer 包使用的轻量消息结构，避免依赖 llm 包。
type Message struct {
	Role    string
	Content string
}

// 全局分词器注册表
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为模型名注册分词器。
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer 返回模型的分词器。精确匹配优先，其次取最长前缀匹配
// （"gpt-4o-mini-2024" 匹配 "gpt-4o-mini" 而不是 "gpt-4o"）。
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	var (
		best    Tokenizer
		bestLen int
	)
	for prefix, t := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 返回已注册的分词器，未注册时回退到估算器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}

// TrimToBudget drops the oldest messages after the first keep entries until
// the total fits budget. The pinned head and the newest message always
// survive, so the result may still exceed a very small budget.
func TrimToBudget(t Tokenizer, messages []Message, budget, keep int) []Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}
	if keep > len(messages) {
		keep = len(messages)
	}
	if keep < 0 {
		keep = 0
	}

	head := messages[:keep]
	tail := messages[keep:]
	for len(tail) > 1 {
		candidate := make([]Message, 0, len(head)+len(tail))
		candidate = append(candidate, head...)
		candidate = append(candidate, tail...)
		if count(t, candidate) <= budget {
			return candidate
		}
		tail = tail[1:]
	}

	out := make([]Message, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}

// count falls back to the estimator when the tokenizer fails, e.g. when
// tiktoken cannot load its encoding offline.
func count(t Tokenizer, messages []Message) int {
	n, err := t.CountMessages(messages)
	if err != nil {
		n, _ = NewEstimatorTokenizer("", 0).CountMessages(messages)
	}
	return n
}
