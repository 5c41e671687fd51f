// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package threshold derives the quality gates the orchestrator enforces
// from the learning store's history of successful runs, tightening them as
// the system accumulates evidence that it can do better than the
// configured fallback.
package threshold

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zbeamlabs/forgecore/pkg/logging"
)

const (
	// percentile is the quantile of successful-run scores used as the gate.
	percentile = 0.75

	// HumanLikenessName and RealismName identify the two gates this manager
	// tracks, matching the evaluator names they derive from.
	HumanLikenessName = "human_likeness"
	RealismName        = "rubric_realism"
)

// ScoreSource abstracts the learning store's score history so this package
// does not import it directly.
type ScoreSource interface {
	ScoresForPassedGenerations(ctx context.Context, evaluatorName string) ([]float64, error)
}

// cachedThreshold holds one gate's last-computed value.
type cachedThreshold struct {
	value      float64
	computedAt time.Time
}

// Manager caches derived thresholds in-process, recomputing them only when
// Refresh is called (on a schedule, or on demand) rather than on every read.
type Manager struct {
	source     ScoreSource
	fallbacks  map[string]float64
	minSamples int
	refreshed  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedThreshold
}

// New builds a Manager. fallbacks maps gate name to its configured default
// (required: the manager never invents a fallback). minSamples is the
// smallest successful-run sample size the manager will derive a threshold
// from; below this it uses the configured fallback. refreshEvery is how long
// a computed gate is served from the cache before a read recomputes it; zero
// means a cached gate never expires, so only an explicit Refresh recomputes it.
func New(source ScoreSource, fallbacks map[string]float64, minSamples int, refreshEvery time.Duration) *Manager {
	return &Manager{
		source:     source,
		fallbacks:  fallbacks,
		minSamples: minSamples,
		refreshed:  refreshEvery,
		cache:      make(map[string]cachedThreshold),
	}
}

// GetHumanLikenessThreshold returns the current human-likeness gate,
// refreshing it first if its cache entry is stale or absent.
func (m *Manager) GetHumanLikenessThreshold(ctx context.Context, logger logging.Logger) (float64, error) {
	return m.get(ctx, logger, HumanLikenessName)
}

// GetRealismThreshold returns the current rubric-realism gate, refreshing it
// first if its cache entry is stale or absent.
func (m *Manager) GetRealismThreshold(ctx context.Context, logger logging.Logger) (float64, error) {
	return m.get(ctx, logger, RealismName)
}

func (m *Manager) get(ctx context.Context, logger logging.Logger, name string) (float64, error) {
	if v, ok := m.cached(name); ok {
		return v, nil
	}
	if err := m.Refresh(ctx, logger, name); err != nil {
		return 0, err
	}
	v, _ := m.cached(name)
	return v, nil
}

func (m *Manager) cached(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[name]
	if !ok {
		return 0, false
	}
	if m.refreshed > 0 && time.Since(entry.computedAt) > m.refreshed {
		return 0, false
	}
	return entry.value, true
}

// Refresh recomputes name's gate from the learning store's current history
// and updates the cache. Called explicitly (startup, scheduled tick, or a
// cache miss inside get); never implicit on every read.
func (m *Manager) Refresh(ctx context.Context, logger logging.Logger, name string) error {
	fallback, ok := m.fallbacks[name]
	if !ok {
		return fmt.Errorf("threshold: no configured fallback for gate %q", name)
	}

	scores, err := m.source.ScoresForPassedGenerations(ctx, name)
	if err != nil {
		return fmt.Errorf("threshold: load scores for %q: %w", name, err)
	}

	value := fallback
	if len(scores) >= m.minSamples {
		value = percentileOf(scores, percentile)
	}

	m.mu.Lock()
	m.cache[name] = cachedThreshold{value: value, computedAt: time.Now()}
	m.mu.Unlock()

	if logger != nil {
		logger.Message(ctx, logging.LevelDebug, "threshold %s refreshed to %.4f from %d samples", name, value, len(scores))
	}
	return nil
}

// percentileOf returns the linear-interpolated q-th quantile (q in [0,1])
// of scores. scores is not mutated.
func percentileOf(scores []float64, q float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := q * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
