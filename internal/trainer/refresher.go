package trainer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Refresher rebuilds the global training set on an interval so cold cache
// misses do not each rescan the whole enrollment history.
type Refresher struct {
	src       Source
	interval  time.Duration
	log       zerolog.Logger
	scheduler gocron.Scheduler

	mu       sync.RWMutex
	snapshot *TrainingSet
}

// NewRefresher creates a Refresher. Call Start to begin refreshing.
func NewRefresher(src Source, interval time.Duration, log zerolog.Logger) (*Refresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Refresher{
		src:       src,
		interval:  interval,
		log:       log.With().Str("component", "trainer").Str("job", "refresh").Logger(),
		scheduler: s,
	}, nil
}

// Start schedules the refresh job, running it once immediately.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.Refresh(ctx) }),
		gocron.WithName("training-set-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	r.scheduler.Start()
	r.log.Info().Dur("interval", r.interval).Msg("training refresh started")
	return nil
}

// Refresh rebuilds the snapshot now. An empty rebuild does not replace a
// non-empty snapshot: the fail-soft history read returns nothing on a
// database error, and that is indistinguishable from an empty history.
func (r *Refresher) Refresh(ctx context.Context) {
	start := time.Now()
	ts := BuildTrainingSet(ctx, r.src, time.Now().UTC())

	r.mu.Lock()
	prev := r.snapshot
	if len(ts.Rows) == 0 && prev != nil && len(prev.Rows) > 0 {
		r.mu.Unlock()
		r.log.Warn().Int("previous_rows", len(prev.Rows)).Time("previous_built_at", prev.BuiltAt).
			Msg("training set rebuild came back empty, keeping previous snapshot")
		return
	}
	r.snapshot = ts
	r.mu.Unlock()

	r.log.Info().Int("rows", len(ts.Rows)).Dur("took", time.Since(start)).Msg("training set refreshed")
}

// Snapshot returns the latest training set, if one has been built.
func (r *Refresher) Snapshot() (*TrainingSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot, r.snapshot != nil
}

// Stop shuts the scheduler down.
func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}
