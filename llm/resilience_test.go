package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) HealthCheck(context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Completion(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	return &ChatResponse{Model: req.Model, Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "ok"}}}}, nil
}

func upstream(retryable bool) *Error {
	return &Error{Code: ErrUpstreamError, Message: "upstream", HTTPStatus: 502, Retryable: retryable}
}

func newTestResilient(inner Provider, cfg ResilientConfig) (*ResilientProvider, *[]time.Duration) {
	p := NewResilientProvider(inner, cfg, zap.NewNop())
	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return p, &delays
}

func TestResilientProvider_RetriesRetryableErrors(t *testing.T) {
	inner := &scriptedProvider{errs: []error{upstream(true), upstream(true)}}
	p, delays := newTestResilient(inner, ResilientConfig{Retry: RetryPolicy{
		MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2,
	}})

	resp, err := p.Completion(context.Background(), &ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	content, err := FirstContent(resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestResilientProvider_NonRetryableReturnsImmediately(t *testing.T) {
	badReq := &Error{Code: ErrInvalidRequest, Message: "bad", HTTPStatus: 400}
	inner := &scriptedProvider{errs: []error{badReq}}
	p, _ := newTestResilient(inner, ResilientConfig{Retry: DefaultRetryPolicy()})

	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Same(t, badReq, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientProvider_ExhaustedRetriesWrapsLastError(t *testing.T) {
	last := upstream(true)
	inner := &scriptedProvider{errs: []error{upstream(true), upstream(true), last}}
	p, _ := newTestResilient(inner, ResilientConfig{Retry: RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond}})

	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Same(t, last, llmErr)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientProvider_CircuitOpensAndRecovers(t *testing.T) {
	inner := &scriptedProvider{errs: []error{upstream(false), upstream(false)}}
	p, _ := newTestResilient(inner, ResilientConfig{
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute},
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.breaker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := p.Completion(context.Background(), &ChatRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, p.State())

	_, err := p.Completion(context.Background(), &ChatRequest{})
	assert.Same(t, ErrCircuitOpen, err)
	assert.Equal(t, 2, inner.calls)

	now = now.Add(2 * time.Minute)
	_, err = p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, p.State())
}

func TestResilientProvider_CanceledContextStopsRetry(t *testing.T) {
	inner := &scriptedProvider{errs: []error{upstream(true), upstream(true)}}
	p, _ := newTestResilient(inner, ResilientConfig{Retry: RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Completion(ctx, &ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.True(t, IsRetryable(upstream(true)))
	assert.False(t, IsRetryable(upstream(false)))
}

func TestRetryPolicy_BackoffCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 3*time.Second, p.backoff(3))
}
