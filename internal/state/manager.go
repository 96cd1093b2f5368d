// Package state owns the current virtual tree and replaces it when the input
// list changes.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mapperfs/internal/config"
	"mapperfs/internal/logging"
	"mapperfs/internal/mapping"
	"mapperfs/internal/metrics"
	"mapperfs/internal/source"
	"mapperfs/internal/tree"
)

var (
	logger = logging.GetLogger().WithPrefix("state")

	// ErrRebuildFailed indicates the input could not be read during a
	// rebuild. The previous tree stays in service.
	ErrRebuildFailed = errors.New("rebuild failed")
)

// Manager holds the current snapshot. Readers load it atomically and never
// block; rebuilds are serialised among themselves only.
type Manager struct {
	src      source.Source
	strategy mapping.Strategy
	metrics  *metrics.Metrics
	now      func() time.Time

	current atomic.Pointer[tree.Snapshot]

	mu         sync.Mutex // serialises writers
	generation uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records rebuild outcomes and snapshot gauges in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(sm *Manager) {
		sm.metrics = m
	}
}

// WithClock overrides the build time stamped on snapshots.
func WithClock(now func() time.Time) Option {
	return func(sm *Manager) {
		sm.now = now
	}
}

// NewManager creates a manager for the given input. No snapshot is installed
// until Initialize succeeds.
func NewManager(src source.Source, strategy mapping.Strategy, opts ...Option) *Manager {
	sm := &Manager{
		src:      src,
		strategy: strategy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Initialize builds and installs the first snapshot. A source that cannot be
// read is a configuration error.
func (sm *Manager) Initialize() error {
	logger.Debug("Building initial tree from %s with %s mapping", sm.src, sm.strategy)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	snap, skipped, err := sm.build()
	if err != nil {
		sm.metrics.Rebuild(metrics.RebuildFailed)
		return fmt.Errorf("%w: read %s: %w", config.ErrConfiguration, sm.src, err)
	}
	sm.install(snap, skipped)

	logger.Info("Serving %d files in %d directories", snap.Len(), snap.Dirs())
	return nil
}

// Rebuild re-reads the input and atomically replaces the current snapshot.
// On failure the current snapshot is left untouched.
func (sm *Manager) Rebuild() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	snap, skipped, err := sm.build()
	if err != nil {
		sm.metrics.Rebuild(metrics.RebuildFailed)
		return fmt.Errorf("%w: read %s: %w", ErrRebuildFailed, sm.src, err)
	}

	if prev := sm.current.Load(); prev != nil && prev.Equal(snap) {
		logger.Debug("Input changed but mapping is identical, keeping generation %d", prev.Generation())
		sm.metrics.Rebuild(metrics.RebuildUnchanged)
		return nil
	}
	sm.install(snap, skipped)

	logger.Info("Rebuilt tree (generation %d): %d files in %d directories",
		snap.Generation(), snap.Len(), snap.Dirs())
	return nil
}

// Current returns the snapshot in service, or nil before Initialize.
func (sm *Manager) Current() *tree.Snapshot {
	return sm.current.Load()
}

// Run rebuilds once per value received on changes until ctx is done. Rebuild
// failures are logged and the loop continues. A nil channel never fires.
func (sm *Manager) Run(ctx context.Context, changes <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Rebuild loop stopped")
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			logger.Debug("Change notification received")
			if err := sm.Rebuild(); err != nil {
				logger.Error("Keeping previous tree: %v", err)
			}
		}
	}
}

// build must be called with sm.mu held.
func (sm *Manager) build() (*tree.Snapshot, int, error) {
	paths, err := sm.src.Paths()
	if err != nil {
		return nil, 0, err
	}

	res := mapping.Map(paths, sm.strategy)
	for _, skipped := range res.Skipped {
		logger.Warn("Skipping invalid source path %q", skipped)
	}

	snap := tree.Build(res.Entries,
		tree.WithGeneration(sm.generation+1),
		tree.WithTime(sm.now()),
	)
	return snap, len(res.Skipped), nil
}

// install must be called with sm.mu held.
func (sm *Manager) install(snap *tree.Snapshot, skipped int) {
	sm.generation = snap.Generation()
	sm.current.Store(snap)

	sm.metrics.Rebuild(metrics.RebuildSucceeded)
	sm.metrics.Snapshot(snap.Generation(), snap.Len(), snap.Dirs(), skipped)
}
