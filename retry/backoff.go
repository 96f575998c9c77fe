package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/types"
)

// Policy 定义重试策略配置
// 节点级重试由调度器通过 next_retry_at 安排，进程内重试由 Retryer 执行，
// 两者共用同一套退避计算
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 延迟时间倍增因子（指数退避）
	Jitter       bool          // 是否添加随机抖动（防止雪崩）

	// Classify 判断错误是否可重试；为空时使用 DefaultClassifier
	Classify func(error) bool

	// OnRetry 重试回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultClassifier 按错误分类决定是否重试：
//   - 暂停信号不是失败，永远不重试
//   - types.Error 按其 Retryable 字段
//   - 其他错误视为不可重试（未知错误宁可失败也不盲目重试）
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := types.AsPauseSignal(err); ok {
		return false
	}
	return types.IsRetryable(err)
}

// normalize 参数校验
func (p *Policy) normalize() {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
}

// NextDelay 计算第 attempt 次重试前的延迟（attempt 从 1 开始）
// 指数退避：delay = initial * multiplier^(attempt-1)，加 ±25% 抖动
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}

	return time.Duration(delay)
}

// Exhausted 判断第 attempt 次尝试失败后是否还有重试额度
// 首次执行加 MaxRetries 次重试，共 MaxRetries+1 次尝试
func (p *Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}

// Retryer 进程内重试器
// 用于链上 RPC 提交等短平快的基础设施调用；节点执行本身不走它
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	policy.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger}
}

// Do 核心重试逻辑：指数退避 + 随机抖动 + 错误分类
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.policy.NextDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !r.policy.Classify(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}
