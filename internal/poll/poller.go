package poll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"liquidityPilot/internal/model"
)

// ErrTimeout is returned when the polling deadline elapses before the check
// reports a terminal result.
var ErrTimeout = errors.New("poll timeout")

// Config bounds one polling loop.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Until invokes check every Interval until it reports done, the timeout
// elapses, or ctx is cancelled. Transient check errors are logged and the
// loop continues; fatal check errors abort the poll. A terminal result is
// only ever reported by check itself, never inferred from elapsed time.
func Until[T any](ctx context.Context, cfg Config, logger *zap.Logger, check func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	deadline := time.Now().Add(cfg.Timeout)
	for {
		value, done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			if model.IsFatal(err) {
				return zero, err
			}
			logger.Warn("status check failed", zap.Error(err))
		} else if done {
			return value, nil
		}

		if cfg.Timeout > 0 && !time.Now().Before(deadline) {
			return zero, ErrTimeout
		}

		timer := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
