package cleanup

import (
	"context"
	"sort"
	"time"

	"interactionlog/internal/logger"
)

const (
	cleanupHour        = 2   // 2 AM
	maxDeletionPerRun  = 500 // rows per DELETE batch
	maxBatchesPerRun   = 20
	defaultSweepPeriod = 5 * time.Minute
)

// Sweeper drops expired in-memory entries and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// Retainer deletes stored interactions older than a cutoff.
type Retainer interface {
	DeleteInteractionsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type Config struct {
	// Sweepers are swept every SweepInterval, keyed by a name for logging.
	Sweepers      map[string]Sweeper
	SweepInterval time.Duration

	// Store and RetentionDays drive the nightly retention run. Retention is
	// off when either is unset.
	Store         Retainer
	RetentionDays int

	Now func() time.Time
}

// Job runs the periodic sweeps and the nightly retention cleanup.
type Job struct {
	sweepers  map[string]Sweeper
	names     []string
	interval  time.Duration
	store     Retainer
	retention time.Duration
	now       func() time.Time
}

func New(cfg Config) *Job {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepPeriod
	}
	j := &Job{
		sweepers: cfg.Sweepers,
		interval: cfg.SweepInterval,
		store:    cfg.Store,
		now:      cfg.Now,
	}
	if cfg.RetentionDays > 0 {
		j.retention = time.Duration(cfg.RetentionDays) * 24 * time.Hour
	}
	for name := range cfg.Sweepers {
		j.names = append(j.names, name)
	}
	sort.Strings(j.names)
	return j
}

// RetentionEnabled reports whether the nightly run deletes anything.
func (j *Job) RetentionEnabled() bool {
	return j.store != nil && j.retention > 0
}

// Run blocks until ctx is done.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	var nightly <-chan time.Time
	var timer *time.Timer
	schedule := func() {
		next := nextRun(j.now())
		logger.LogInfo("Next retention cleanup scheduled for %v (in %v)",
			next.Format("2006-01-02 15:04:05"), next.Sub(j.now()).Round(time.Second))
		timer = time.NewTimer(next.Sub(j.now()))
		nightly = timer.C
	}

	if j.RetentionEnabled() {
		logger.LogInfo("Cleanup routine started - sweeping every %v, retention %v", j.interval, j.retention)
		schedule()
		defer func() { timer.Stop() }()
	} else {
		logger.LogInfo("Cleanup routine started - sweeping every %v, retention disabled", j.interval)
	}

	for {
		select {
		case <-ctx.Done():
			logger.LogInfo("Cleanup routine stopped")
			return
		case <-ticker.C:
			j.SweepOnce()
		case <-nightly:
			if _, err := j.RunRetention(ctx); err != nil {
				logger.LogError("Retention cleanup failed: %v", err)
			}
			schedule()
		}
	}
}

// SweepOnce sweeps every registered sweeper and returns the total removed.
func (j *Job) SweepOnce() int {
	total := 0
	for _, name := range j.names {
		n := j.sweepers[name].Sweep()
		if n > 0 {
			logger.LogInfo("Swept %d expired %s entries", n, name)
		}
		total += n
	}
	return total
}

// RunRetention deletes interactions older than the retention period in
// bounded batches. It returns the number of records removed.
func (j *Job) RunRetention(ctx context.Context) (int, error) {
	if !j.RetentionEnabled() {
		return 0, nil
	}

	cutoff := j.now().Add(-j.retention)
	logger.LogInfo("Cleaning records older than %v (before %v)",
		j.retention, cutoff.Format("2006-01-02 15:04:05"))

	total := 0
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		n, err := j.store.DeleteInteractionsBefore(ctx, cutoff, maxDeletionPerRun)
		total += n
		if err != nil {
			return total, err
		}
		if n < maxDeletionPerRun {
			break
		}
	}

	if total == 0 {
		logger.LogInfo("Cleanup completed - no expired records found")
	} else {
		logger.LogInfo("Cleanup completed - total %d expired records removed", total)
	}
	return total, nil
}

// nextRun returns the next cleanupHour o'clock strictly after now.
func nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
