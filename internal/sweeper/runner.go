package sweeper

import (
	"context"
	"time"

	"appointly/internal/config"
	"appointly/internal/domain"

	"github.com/rs/zerolog"
)

const lockPrefix = "sweep:"

// Runner executes both sweeps on a fixed interval. A runtime-store lock per
// sweep keeps replicas from sweeping at the same time.
type Runner struct {
	sweeper *Sweeper
	locks   domain.RuntimeStore
	cfg     config.LifecycleConfig
	logger  *zerolog.Logger
}

func NewRunner(s *Sweeper, locks domain.RuntimeStore, cfg config.LifecycleConfig, logger *zerolog.Logger) *Runner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{sweeper: s, locks: locks, cfg: cfg, logger: logger}
}

// Run sweeps immediately and then every SweepInterval until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}

	r.logger.Info().Dur("interval", interval).Msg("sweep runner started")
	defer r.logger.Info().Msg("sweep runner stopped")

	r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce runs the no-show sweep and then the reminder sweep.
func (r *Runner) RunOnce(ctx context.Context) {
	r.locked(ctx, NoShowSweep, func() (Result, error) {
		return r.sweeper.NoShows(ctx, r.cfg.GracePeriod, false)
	})
	r.locked(ctx, ReminderSweep, func() (Result, error) {
		return r.sweeper.Reminders(ctx, r.cfg.ReminderWindow, false)
	})
}

// LockName is the runtime-store lock guarding a sweep.
func LockName(sweep string) string {
	return lockPrefix + sweep
}

// LockTTL bounds how long a crashed holder keeps a sweep lock.
func LockTTL(cfg config.LifecycleConfig) time.Duration {
	if cfg.SweepInterval <= 0 {
		return time.Hour
	}
	return cfg.SweepInterval
}

func (r *Runner) locked(ctx context.Context, sweep string, run func() (Result, error)) {
	name := LockName(sweep)
	ttl := LockTTL(r.cfg)

	if r.locks != nil {
		ok, err := r.locks.AcquireLock(ctx, name, ttl)
		if err != nil {
			r.logger.Error().Err(err).Str("lock", name).Msg("failed to acquire sweep lock")
			return
		}
		if !ok {
			r.logger.Debug().Str("lock", name).Msg("sweep already running elsewhere")
			return
		}
		defer func() {
			if err := r.locks.ReleaseLock(context.WithoutCancel(ctx), name); err != nil {
				r.logger.Warn().Err(err).Str("lock", name).Msg("failed to release sweep lock")
			}
		}()
	}

	res, err := run()
	if err != nil {
		r.logger.Error().Err(err).Str("sweep", sweep).Msg("sweep failed")
		return
	}
	if res.HasFailures() {
		r.logger.Warn().Str("sweep", sweep).Int("failed", res.Failed).Msg("sweep finished with failures")
	}
}
