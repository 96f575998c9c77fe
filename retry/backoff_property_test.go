package retry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 退避延迟必须落在 [InitialDelay, MaxDelay*1.25] 区间内，
// 抖动最多把上限放大 25%
func TestProperty_NextDelayWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("delay stays within policy bounds", prop.ForAll(
		func(attempt int, initialMs int, maxFactor int, jitter bool) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			p := &Policy{
				MaxRetries:   10,
				InitialDelay: initial,
				MaxDelay:     initial * time.Duration(maxFactor),
				Multiplier:   2.0,
				Jitter:       jitter,
			}
			p.normalize()

			delay := p.NextDelay(attempt)

			if delay < p.InitialDelay {
				t.Logf("delay %v below initial %v", delay, p.InitialDelay)
				return false
			}
			ceiling := time.Duration(float64(p.MaxDelay) * 1.25)
			if delay > ceiling {
				t.Logf("delay %v above ceiling %v", delay, ceiling)
				return false
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 1000),
		gen.IntRange(1, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// 无抖动时退避序列单调不减，到 MaxDelay 封顶
func TestProperty_NextDelayMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("delay without jitter never decreases", prop.ForAll(
		func(initialMs int, multiplierTenths int) bool {
			p := &Policy{
				MaxRetries:   10,
				InitialDelay: time.Duration(initialMs) * time.Millisecond,
				MaxDelay:     time.Minute,
				Multiplier:   float64(multiplierTenths) / 10.0,
				Jitter:       false,
			}
			p.normalize()

			prev := time.Duration(0)
			for attempt := 1; attempt <= 12; attempt++ {
				delay := p.NextDelay(attempt)
				if delay < prev {
					t.Logf("delay decreased at attempt %d: %v -> %v", attempt, prev, delay)
					return false
				}
				if delay > p.MaxDelay {
					t.Logf("delay %v exceeds max %v", delay, p.MaxDelay)
					return false
				}
				prev = delay
			}
			return true
		},
		gen.IntRange(1, 500),
		gen.IntRange(10, 40),
	))

	properties.TestingRun(t)
}

// 重试额度：attempt 超过 MaxRetries 才算耗尽
func TestProperty_ExhaustedBoundary(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("exhausted exactly when attempt exceeds budget", prop.ForAll(
		func(maxRetries int, attempt int) bool {
			p := &Policy{MaxRetries: maxRetries, InitialDelay: time.Millisecond}
			p.normalize()
			return p.Exhausted(attempt) == (attempt > maxRetries)
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
