package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen 表示断路器处于打开状态，请求被直接拒绝。
var ErrCircuitOpen = &Error{
	Code:       ErrProviderUnavailable,
	Message:    "llm provider circuit breaker is open",
	HTTPStatus: 503,
	Retryable:  false,
}

// RetryPolicy 定义 Completion 的重试策略。
type RetryPolicy struct {
	MaxRetries     int           `json:"max_retries"`     // 0 表示不重试
	InitialBackoff time.Duration `json:"initial_backoff"` // 首次退避
	MaxBackoff     time.Duration `json:"max_backoff"`     // 退避上限
	Multiplier     float64       `json:"multiplier"`      // 指数因子
}

// DefaultRetryPolicy 返回默认重试策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	return time.Duration(d)
}

// CircuitState 断路器状态
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 断路器配置。FailureThreshold <= 0 时禁用断路器。
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

// DefaultCircuitBreakerConfig 返回默认断路器配置。
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	}
}

type circuitBreaker struct {
	cfg       CircuitBreakerConfig
	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
	logger    *zap.Logger
}

func newCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *circuitBreaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &circuitBreaker{cfg: cfg, now: time.Now, logger: logger}
}

func (cb *circuitBreaker) enabled() bool { return cb.cfg.FailureThreshold > 0 }

// allow 判断是否放行请求；打开状态超过 OpenTimeout 后进入半开。
func (cb *circuitBreaker) allow() bool {
	if !cb.enabled() {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.successes = 0
		cb.logger.Info("circuit breaker half-open")
	}
	return true
}

func (cb *circuitBreaker) recordFailure() {
	if !cb.enabled() {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		if cb.state != CircuitOpen {
			cb.logger.Warn("circuit breaker opened", zap.Int("failures", cb.failures))
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

func (cb *circuitBreaker) recordSuccess() {
	if !cb.enabled() {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.logger.Info("circuit breaker closed")
		}
		return
	}
	cb.failures = 0
}

func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsRetryable 判断错误是否值得重试。非 *Error 的错误（网络层等）视为可重试，
// 上下文取消与超时不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return true
}

// ResilientConfig 配置弹性 Provider。
type ResilientConfig struct {
	Retry          RetryPolicy
	CircuitBreaker CircuitBreakerConfig
}

// ResilientProvider 用重试与断路器包裹一个 Provider。
type ResilientProvider struct {
	inner   Provider
	policy  RetryPolicy
	breaker *circuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

var _ Provider = (*ResilientProvider)(nil)

// NewResilientProvider 创建弹性 Provider 包装。
func NewResilientProvider(inner Provider, cfg ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "resilient_provider"), zap.String("provider", inner.Name()))
	return &ResilientProvider{
		inner:   inner,
		policy:  cfg.Retry,
		breaker: newCircuitBreaker(cfg.CircuitBreaker, logger),
		sleep:   sleepContext,
		logger:  logger,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *ResilientProvider) Name() string { return p.inner.Name() }

func (p *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

// State 返回当前断路器状态。
func (p *ResilientProvider) State() CircuitState { return p.breaker.State() }

// Completion 发起请求，对可重试错误按指数退避重试。
func (p *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.policy.backoff(attempt)
			p.logger.Debug("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := p.inner.Completion(ctx, req)
		if err == nil {
			p.breaker.recordSuccess()
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			// 调用方错误不计入断路器
			if ctx.Err() == nil && isUpstreamFailure(err) {
				p.breaker.recordFailure()
			}
			return nil, err
		}
		p.logger.Warn("completion failed",
			zap.Int("attempt", attempt),
			zap.String("trace_id", req.TraceID),
			zap.Error(err))
	}

	p.breaker.recordFailure()
	if p.policy.MaxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("completion failed after %d retries: %w", p.policy.MaxRetries, lastErr)
}

func isUpstreamFailure(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}
	switch llmErr.Code {
	case ErrUpstreamError, ErrUpstreamTimeout, ErrProviderUnavailable:
		return true
	}
	return false
}
