// Package sched runs the periodic lifecycle sweep on a gocron scheduler.
package sched

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"crm-licensing/internal/config"
	"crm-licensing/internal/domain/ports/adapter"
	"crm-licensing/internal/infra/metrics"
)

const sweepJobName = "licensing:lifecycle-sweep"

// Sweeper evaluates due subscriptions and reports how many changed state.
type Sweeper interface {
	Sweep(ctx context.Context, batch int) (int, error)
}

// LifecycleSweeper expires trials and terms and suspends lapsed renewals on a
// fixed interval. With a Locker, only one replica sweeps per tick.
type LifecycleSweeper struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	batch     int
	timeout   time.Duration
	log       *zerolog.Logger
}

func NewLifecycleSweeper(cfg config.SchedulerConfig, sweeper Sweeper, locker adapter.Locker, logger *zerolog.Logger) (*LifecycleSweeper, error) {
	l := logger.With().Str("component", "LifecycleSweeper").Logger()
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	w := &LifecycleSweeper{
		scheduler: s,
		sweeper:   sweeper,
		batch:     cfg.SweepBatch,
		timeout:   interval,
		log:       &l,
	}

	opts := []gocron.JobOption{
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	}
	if locker != nil {
		ttl := cfg.LockTTL
		if ttl <= 0 {
			ttl = 2 * interval
		}
		opts = append(opts, gocron.WithDistributedJobLocker(&jobLocker{locker: locker, ttl: ttl}))
	}
	if _, err := s.NewJob(gocron.DurationJob(interval), gocron.NewTask(w.tick), opts...); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return w, nil
}

func (w *LifecycleSweeper) Start() {
	w.log.Info().Msg("Starting lifecycle sweeper")
	w.scheduler.Start()
}

func (w *LifecycleSweeper) Stop() error {
	w.log.Info().Msg("Stopping lifecycle sweeper")
	return w.scheduler.Shutdown()
}

func (w *LifecycleSweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.RunOnce(ctx); err != nil {
		w.log.Error().Err(err).Msg("lifecycle sweep failed")
	}
}

// RunOnce performs a single sweep on the caller's goroutine.
func (w *LifecycleSweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := w.sweeper.Sweep(ctx, w.batch)
	if err != nil {
		metrics.IncSweeperRun("error")
		return n, err
	}
	metrics.IncSweeperRun("ok")
	if n > 0 {
		w.log.Info().Int("count", n).Msg("subscriptions transitioned")
	}
	return n, nil
}

// jobLocker adapts adapter.Locker to gocron's distributed locking.
type jobLocker struct {
	locker adapter.Locker
	ttl    time.Duration
}

var _ gocron.Locker = (*jobLocker)(nil)

func (j *jobLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token, err := j.locker.TryLock(ctx, key, j.ttl)
	if err != nil {
		return nil, err
	}
	return &heldLock{locker: j.locker, key: key, token: token}, nil
}

type heldLock struct {
	locker adapter.Locker
	key    string
	token  string
}

func (h *heldLock) Unlock(ctx context.Context) error {
	return h.locker.Unlock(ctx, h.key, h.token)
}
