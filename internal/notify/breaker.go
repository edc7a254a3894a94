package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常工作
	BreakerOpen                         // 熔断中
	BreakerHalfOpen                     // 尝试恢复
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 单个服务商的熔断器
// 连续失败 maxFailures 次后熔断，resetTimeout 后放行少量试探请求
type CircuitBreaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMaxCalls int

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	halfOpenCalls int

	now    func() time.Time
	logger *zap.Logger
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: 1,
		state:            BreakerClosed,
		now:              time.Now,
		logger:           logger.Named("breaker"),
	}
}

// Call 熔断时直接返回 ErrCircuitOpen，不调用 operation
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(context.Context) error) error {
	if !cb.allow() {
		return fmt.Errorf("%s: %w", cb.name, pkgerrors.ErrCircuitOpen)
	}

	err := operation(ctx)
	if neutral(err) {
		cb.release()
		return err
	}
	cb.record(ctx, err)
	return err
}

// neutral 不反映服务商健康状况的错误
func neutral(err error) bool {
	return errors.Is(err, pkgerrors.ErrChannelNotConfigured) ||
		errors.Is(err, errNoDevices) ||
		errors.Is(err, errBadAddress) ||
		errors.Is(err, context.Canceled)
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.halfOpenCalls = 0
		cb.logger.Info("Circuit breaker transitioned to half-open", zap.String("breaker", cb.name))
		fallthrough
	case BreakerHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

// release 不计结果地归还半开名额
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == BreakerHalfOpen {
			cb.logger.Info("Circuit breaker transitioned to closed", zap.String("breaker", cb.name))
		}
		cb.state = BreakerClosed
		cb.failures = 0
		cb.halfOpenCalls = 0
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.maxFailures) {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
		cb.halfOpenCalls = 0
		cb.logger.Warn("Circuit breaker transitioned to open",
			zap.String("breaker", cb.name),
			zap.Int("failures", cb.failures),
			zap.Duration("reset_timeout", cb.resetTimeout),
		)
		metrics.GetMetrics().RecordBreakerOpen(ctx, cb.name)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
