// Package retention implements the retention sweeper: a periodic ticker
// that deletes traces, artifacts, prompts, and prompt-cache entries older
// than their configured windows, one control-plane delete call per
// resource.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the sweeper runs when not configured.
const DefaultInterval = 15 * time.Minute

// Config holds the per-resource retention windows.
type Config struct {
	CleanupInterval          time.Duration
	TraceRetentionDays       int
	ArtifactRetentionDays    int
	PromptRetentionDays      int
	PromptCacheRetentionDays int
}

// DefaultConfig returns the stock windows: 30 days for most resources,
// 7 for the prompt cache.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:          DefaultInterval,
		TraceRetentionDays:       30,
		ArtifactRetentionDays:    30,
		PromptRetentionDays:      30,
		PromptCacheRetentionDays: 7,
	}
}

// Store is the control-plane deletion surface the sweeper drives.
type Store interface {
	DeleteTracesOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeleteArtifactsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeletePromptsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeletePromptCacheOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper runs Config.CleanupInterval-spaced sweeps until its context is
// cancelled.
type Sweeper struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, config Config, logger *slog.Logger) *Sweeper {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, config: config, logger: logger, now: time.Now}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass across all four resource types,
// logging but not aborting on a per-resource failure.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()

	if n, err := s.store.DeleteTracesOlderThan(ctx, now.AddDate(0, 0, -s.config.TraceRetentionDays)); err != nil {
		s.logger.Warn("retention sweep: traces failed", "error", err)
	} else if n > 0 {
		s.logger.Info("retention sweep: traces deleted", "count", n)
	}

	if n, err := s.store.DeleteArtifactsOlderThan(ctx, now.AddDate(0, 0, -s.config.ArtifactRetentionDays)); err != nil {
		s.logger.Warn("retention sweep: artifacts failed", "error", err)
	} else if n > 0 {
		s.logger.Info("retention sweep: artifacts deleted", "count", n)
	}

	if n, err := s.store.DeletePromptsOlderThan(ctx, now.AddDate(0, 0, -s.config.PromptRetentionDays)); err != nil {
		s.logger.Warn("retention sweep: prompts failed", "error", err)
	} else if n > 0 {
		s.logger.Info("retention sweep: prompts deleted", "count", n)
	}

	if n, err := s.store.DeletePromptCacheOlderThan(ctx, now.AddDate(0, 0, -s.config.PromptCacheRetentionDays)); err != nil {
		s.logger.Warn("retention sweep: prompt cache failed", "error", err)
	} else if n > 0 {
		s.logger.Info("retention sweep: prompt cache deleted", "count", n)
	}
}
