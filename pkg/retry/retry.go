package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("operation timed out")

type Policy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// OnRetry 在每次失败后调用（attempt 从 1 开始），用于日志和指标
type OnRetry func(attempt int, err error)

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1.5
	}
	return p
}

// Delay 返回第 n 次失败后的等待时间：InitialDelay * Multiplier^(n-1)
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do 按策略执行 op，每次尝试都与超时计时器赛跑，超时视为失败
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, hooks ...OnRetry) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = runOnce(ctx, p.Timeout, op)
		if lastErr == nil {
			return nil
		}
		for _, h := range hooks {
			h(attempt, lastErr)
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt, errors.Join(lastErr, ctx.Err()))
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

func runOnce(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return opCtx.Err()
	}
}
