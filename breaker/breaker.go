// Package breaker 按外部资源熔断节点调用
// 状态存放在可插拔的 StateStore（进程内或 Redis），多个 worker 共享同一份
// 熔断视图
package breaker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常状态，允许请求通过
	StateClosed State = iota
	// StateOpen 熔断状态，拒绝所有请求
	StateOpen
	// StateHalfOpen 半开状态，允许探测请求
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值，达到后触发熔断
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout 熔断后等待恢复的时间
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态允许的探测请求数
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultConfig 默认熔断器配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// Snapshot 一个资源的熔断状态
type Snapshot struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	Probes      int       `json:"probes"`
	LastFailure time.Time `json:"last_failure"`
}

// StateStore 熔断状态的存取后端
// Update 在存储层原子地执行读-改-写：fn 看到的快照和写回之间不允许其它
// worker 的写入插入。CAS 后端冲突时 fn 会被重新调用，fn 必须无副作用
// （副作用通过闭包捕获并在每次调用开头重置）。fn 返回 false 表示无需写回。
type StateStore interface {
	Load(ctx context.Context, resource string) (Snapshot, error)
	Update(ctx context.Context, resource string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, error)
}

// Event 熔断器状态变更事件
type Event struct {
	Resource  string    `json:"resource"`
	OldState  State     `json:"old_state"`
	NewState  State     `json:"new_state"`
	Reason    string    `json:"reason"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
}

// Breaker 按资源名熔断
// 不同资源互不影响；同一资源的状态经 StateStore 共享，计数与状态迁移
// 全部在存储层原子完成，进程内不持有自己的锁
type Breaker struct {
	config  Config
	store   StateStore
	onEvent func(Event)
	logger  *zap.Logger
}

func New(config Config, store StateStore, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if store == nil {
		store = NewLocalStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{config: config, store: store, logger: logger.With(zap.String("component", "breaker"))}
}

// OnStateChange 注册状态变更回调
func (b *Breaker) OnStateChange(fn func(Event)) { b.onEvent = fn }

// Allow 检查资源是否可以被调用
// 熔断中返回 CIRCUIT_OPEN 错误，并带上剩余冷却时间
func (b *Breaker) Allow(ctx context.Context, resource string) error {
	var denial error
	var events []Event

	_, err := b.store.Update(ctx, resource, func(snap Snapshot) (Snapshot, bool) {
		denial = nil
		events = events[:0]

		switch snap.State {
		case StateClosed:
			return snap, false

		case StateOpen:
			// 检查是否到了恢复时间
			if time.Since(snap.LastFailure) >= b.config.RecoveryTimeout {
				events = transition(events, &snap, resource, StateHalfOpen, "recovery timeout elapsed")
				snap.Probes = 1
				snap.Successes = 0
				return snap, true
			}
			denial = types.NewError(types.ErrCircuitOpen,
				fmt.Sprintf("circuit open for %s: %d consecutive failures, retry after %v",
					resource, snap.Failures, b.config.RecoveryTimeout-time.Since(snap.LastFailure))).
				WithResource(resource).WithRetryable(true)
			return snap, false

		case StateHalfOpen:
			if snap.Probes < b.config.HalfOpenMaxProbes {
				snap.Probes++
				return snap, true
			}
			denial = types.NewError(types.ErrCircuitOpen,
				fmt.Sprintf("circuit half-open for %s: max probes (%d) reached",
					resource, b.config.HalfOpenMaxProbes)).
				WithResource(resource).WithRetryable(true)
			return snap, false

		default:
			denial = types.NewError(types.ErrInternalError,
				fmt.Sprintf("unknown circuit state %d for %s", snap.State, resource))
			return snap, false
		}
	})
	if err != nil {
		return err
	}

	b.emit(events)
	return denial
}

// CooldownRemaining 返回资源距离下一次允许探测的剩余时间
// 闭合或半开返回 0；调度器用它决定熔断快速失败后的重试间隔
func (b *Breaker) CooldownRemaining(ctx context.Context, resource string) (time.Duration, error) {
	snap, err := b.store.Load(ctx, resource)
	if err != nil {
		return 0, err
	}
	if snap.State != StateOpen {
		return 0, nil
	}
	remaining := b.config.RecoveryTimeout - time.Since(snap.LastFailure)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RecordSuccess 记录一次成功调用
func (b *Breaker) RecordSuccess(ctx context.Context, resource string) error {
	var events []Event

	_, err := b.store.Update(ctx, resource, func(snap Snapshot) (Snapshot, bool) {
		events = events[:0]

		switch snap.State {
		case StateClosed:
			snap.Failures = 0 // 重置失败计数

		case StateHalfOpen:
			snap.Successes++
			if snap.Successes >= b.config.SuccessThreshold {
				events = transition(events, &snap, resource, StateClosed,
					fmt.Sprintf("%d consecutive successes in half-open", snap.Successes))
				snap.Failures = 0
				snap.Successes = 0
				snap.Probes = 0
			}
		}
		return snap, true
	})
	if err != nil {
		return err
	}

	b.emit(events)
	return nil
}

// RecordFailure 记录一次失败调用
func (b *Breaker) RecordFailure(ctx context.Context, resource string) error {
	var events []Event

	_, err := b.store.Update(ctx, resource, func(snap Snapshot) (Snapshot, bool) {
		events = events[:0]

		snap.Failures++
		snap.LastFailure = time.Now().UTC()

		switch snap.State {
		case StateClosed:
			if snap.Failures >= b.config.FailureThreshold {
				events = transition(events, &snap, resource, StateOpen,
					fmt.Sprintf("%d consecutive failures", snap.Failures))
			}

		case StateHalfOpen:
			// 半开状态下任何失败都重新熔断
			snap.Successes = 0
			events = transition(events, &snap, resource, StateOpen, "failure in half-open state")
		}
		return snap, true
	})
	if err != nil {
		return err
	}

	b.emit(events)
	return nil
}

// StateOf 获取资源当前状态
func (b *Breaker) StateOf(ctx context.Context, resource string) (State, error) {
	snap, err := b.store.Load(ctx, resource)
	if err != nil {
		return StateClosed, err
	}
	return snap.State, nil
}

// Reset 手动复位资源的熔断器
func (b *Breaker) Reset(ctx context.Context, resource string) error {
	var events []Event

	_, err := b.store.Update(ctx, resource, func(snap Snapshot) (Snapshot, bool) {
		events = events[:0]

		if snap.State != StateClosed {
			events = transition(events, &snap, resource, StateClosed, "manual reset")
		}
		snap.Failures = 0
		snap.Successes = 0
		snap.Probes = 0
		return snap, true
	})
	if err != nil {
		return err
	}

	b.emit(events)
	return nil
}

// transition 在快照上执行状态转换并记录事件
// 只修改闭包捕获的副本；事件在 Update 提交成功后才对外发布
func transition(events []Event, snap *Snapshot, resource string, newState State, reason string) []Event {
	oldState := snap.State
	snap.State = newState
	return append(events, Event{
		Resource:  resource,
		OldState:  oldState,
		NewState:  newState,
		Reason:    reason,
		Failures:  snap.Failures,
		Timestamp: time.Now().UTC(),
	})
}

// emit 在状态写回成功后输出日志并触发回调
func (b *Breaker) emit(events []Event) {
	for _, e := range events {
		b.logger.Info("circuit state change",
			zap.String("resource", e.Resource),
			zap.String("old_state", e.OldState.String()),
			zap.String("new_state", e.NewState.String()),
			zap.String("reason", e.Reason),
			zap.Int("failures", e.Failures))

		if b.onEvent != nil {
			// 异步发送避免死锁
			go b.onEvent(e)
		}
	}
}
