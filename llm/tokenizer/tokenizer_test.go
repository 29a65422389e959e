package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorTokenizer_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)
	assert.Equal(t, 8192, e.MaxTokens())

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short ascii rounds up to one", "hi", 1},
		{"ascii", strings.Repeat("a", 40), 10},
		{"cjk", "患者病史摘要", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CountTokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimatorTokenizer_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)
	got, err := e.CountMessages([]Message{
		{Role: "system", Content: strings.Repeat("a", 40)},
		{Role: "user", Content: strings.Repeat("b", 8)},
	})
	require.NoError(t, err)
	assert.Equal(t, 10+4+2+4+3, got)
}

func TestGetTokenizer_LongestPrefix(t *testing.T) {
	short := NewEstimatorTokenizer("short", 100)
	long := NewEstimatorTokenizer("long", 200)
	RegisterTokenizer("unit-model", short)
	RegisterTokenizer("unit-model-mini", long)

	got, err := GetTokenizer("unit-model-mini-2025")
	require.NoError(t, err)
	assert.Same(t, long, got)

	got, err = GetTokenizer("unit-model")
	require.NoError(t, err)
	assert.Same(t, short, got)

	_, err = GetTokenizer("unregistered-model")
	assert.Error(t, err)
	assert.Equal(t, "estimator", GetTokenizerOrEstimator("unregistered-model").Name())
}

func TestNewTiktokenTokenizer_Encodings(t *testing.T) {
	assert.Equal(t, "tiktoken[o200k_base]", NewTiktokenTokenizer("gpt-4o-2024-08-06").Name())
	assert.Equal(t, 8192, NewTiktokenTokenizer("gpt-4").MaxTokens())
	assert.Equal(t, 128000, NewTiktokenTokenizer("GPT-4o-mini").MaxTokens())
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenTokenizer("custom-deployment").Name())
}

func TestTrimToBudget(t *testing.T) {
	e := NewEstimatorTokenizer("test", 0)
	msgs := []Message{{Role: "system", Content: "pinned"}}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, Message{Role: "user", Content: strings.Repeat("x", 40)})
	}
	msgs = append(msgs, Message{Role: "user", Content: "newest"})

	t.Run("fits unchanged", func(t *testing.T) {
		assert.Equal(t, msgs, TrimToBudget(e, msgs, 10000, 1))
	})

	t.Run("drops oldest after head", func(t *testing.T) {
		got := TrimToBudget(e, msgs, 50, 1)
		require.Less(t, len(got), len(msgs))
		assert.Equal(t, "pinned", got[0].Content)
		assert.Equal(t, "newest", got[len(got)-1].Content)
		n, err := e.CountMessages(got)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 50)
	})

	t.Run("keeps head and newest under tiny budget", func(t *testing.T) {
		got := TrimToBudget(e, msgs, 1, 1)
		require.Len(t, got, 2)
		assert.Equal(t, "pinned", got[0].Content)
		assert.Equal(t, "newest", got[1].Content)
	})

	t.Run("zero budget disables trimming", func(t *testing.T) {
		assert.Len(t, TrimToBudget(e, msgs, 0, 1), len(msgs))
	})
}

type failingTokenizer struct{ EstimatorTokenizer }

func (failingTokenizer) CountMessages([]Message) (int, error) {
	return 0, errors.New("encoding unavailable")
}

func TestTrimToBudget_FallsBackToEstimator(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: strings.Repeat("x", 400)},
		{Role: "user", Content: "newest"},
	}
	var tk Tokenizer = &failingTokenizer{}

	// 估算: 100+4, 1+4, 回复 3
	assert.Len(t, TrimToBudget(tk, msgs, 112, 0), 2)

	got := TrimToBudget(tk, msgs, 20, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "newest", got[0].Content)
}
