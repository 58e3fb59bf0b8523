// Package scheduler runs periodic batch re-verification sweeps over all
// linked identities.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/observability/metrics"
	domain "github.com/pendergraft/rolewarden/internal/verify/domain"
)

// AddressLister supplies the identities to sweep.
type AddressLister interface {
	ListAddresses(ctx context.Context) ([]string, error)
}

// RunStats aggregates the counters for one scheduler run.
type RunStats struct {
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Processed      int       `json:"processed"`
	NewlySatisfied int       `json:"newlySatisfied"`
	Repaired       int       `json:"repaired"`
	Failed         int       `json:"failed"`
	Truncated      bool      `json:"truncated"`
}

// Scheduler sweeps all known identities on a fixed interval, reconciling
// each through the verification engine with bounded concurrency.
type Scheduler struct {
	cfg    config.SchedulerConfig
	lister AddressLister
	svc    domain.Service
	logger *slog.Logger

	mu       sync.Mutex
	lastRun  *RunStats
	stopOnce sync.Once
	stopCh   chan struct{}

	// sleep is swapped out in tests to avoid real inter-batch delays
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, lister AddressLister, svc domain.Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		lister: lister,
		svc:    svc,
		logger: logger,
		stopCh: make(chan struct{}),
		sleep:  sleepCtx,
	}
}

// Run executes one sweep immediately, then repeats on the configured
// interval until the context is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.BatchIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop terminates the Run loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// LastRun returns the stats of the most recent completed run, if any.
func (s *Scheduler) LastRun() *RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	stats := *s.lastRun
	return &stats
}

// RunOnce sweeps all known identities once: fixed-size batches, all
// members of a batch reconciled concurrently, a small delay between
// batches, and a global per-run cap. A failure for one identity never
// aborts the batch or the run.
func (s *Scheduler) RunOnce(ctx context.Context) *RunStats {
	stats := &RunStats{StartedAt: time.Now()}

	addresses, err := s.lister.ListAddresses(ctx)
	if err != nil {
		s.logger.Error("listing identities failed", "error", err)
		stats.FinishedAt = time.Now()
		metrics.SchedulerRun("error", stats.FinishedAt.Sub(stats.StartedAt).Seconds(), 0)
		s.setLastRun(stats)
		return stats
	}

	if max := s.cfg.MaxIdentitiesPerRun; max > 0 && len(addresses) > max {
		addresses = addresses[:max]
		stats.Truncated = true
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batchDelay := time.Duration(s.cfg.BatchDelayMs) * time.Millisecond

	s.logger.Info("scheduler run starting", "identities", len(addresses), "batch_size", batchSize)

	for start := 0; start < len(addresses); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+batchSize, len(addresses))
		s.runBatch(ctx, addresses[start:end], stats)

		if end < len(addresses) && batchDelay > 0 {
			if err := s.sleep(ctx, batchDelay); err != nil {
				break
			}
		}
	}

	stats.FinishedAt = time.Now()
	elapsed := stats.FinishedAt.Sub(stats.StartedAt)
	metrics.SchedulerRun("ok", elapsed.Seconds(), stats.Processed)
	s.logger.Info("scheduler run complete",
		"processed", stats.Processed,
		"newly_satisfied", stats.NewlySatisfied,
		"repaired", stats.Repaired,
		"failed", stats.Failed,
		"truncated", stats.Truncated,
		"duration", elapsed,
	)
	s.setLastRun(stats)
	return stats
}

// runBatch reconciles all addresses in one batch concurrently and folds
// the per-identity results into the run counters.
func (s *Scheduler) runBatch(ctx context.Context, batch []string, stats *RunStats) {
	type identityResult struct {
		newly    int
		repaired int
		failed   bool
	}

	results := make([]identityResult, len(batch))
	var wg sync.WaitGroup
	for i, address := range batch {
		i, address := i, address
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.reconcileOne(ctx, address)
			if err != nil {
				s.logger.Warn("identity reconciliation failed", "address", address, "error", err)
				results[i] = identityResult{failed: true}
				return
			}
			results[i] = identityResult{newly: outcome.Granted, repaired: outcome.Repaired}
		}()
	}
	wg.Wait()

	for _, r := range results {
		stats.Processed++
		if r.failed {
			stats.Failed++
			continue
		}
		stats.NewlySatisfied += r.newly
		stats.Repaired += r.repaired
	}
}

// reconcileOne runs the engine for a single address, converting panics
// into errors so a misbehaving provider cannot take down the run.
func (s *Scheduler) reconcileOne(ctx context.Context, address string) (applied *domain.ApplyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during reconciliation: %v", r)
		}
	}()

	res, err := s.svc.Reconcile(ctx, address, domain.ReconcileOptions{})
	if err != nil {
		return nil, err
	}
	if !res.NeedsAction() {
		return &domain.ApplyResult{}, nil
	}
	return s.svc.ApplyRoles(ctx, res)
}

func (s *Scheduler) setLastRun(stats *RunStats) {
	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
