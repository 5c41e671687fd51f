// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package orchestrator runs every registered evaluator against a single
// generation attempt and combines their verdicts into one pass/fail
// decision. Evaluators run concurrently since none depends on another's
// output; the composite score is informational only - passing requires
// every mandatory gate to pass on its own.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zbeamlabs/forgecore/evaluators"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// defaultCompositeWeights supplies the composite share of every evaluator
// name the caller's weights omit (all of them when the caller passes nil);
// a configured value always takes precedence.
var defaultCompositeWeights = map[string]float64{
	evaluators.HumanLikenessName: 0.4,
	evaluators.RubricName:        0.4,
	evaluators.StructuralName:    0.2,
}

// EvaluationOutcome is the orchestrator's verdict on one generation attempt.
type EvaluationOutcome struct {
	// PerEvaluator holds each evaluator's raw result, keyed by name.
	PerEvaluator map[string]evaluators.Result
	// Overall is the weighted composite score across all evaluators that
	// produced a result. It is informational: Pass does not follow from it.
	Overall float64
	// Pass is true only if every mandatory gate passed individually.
	Pass bool
	// Reasons enumerates the gates that failed, for use by the next
	// attempt's parameter adaptation.
	Reasons []string
}

// Orchestrator evaluates a single candidate text across every registered
// evaluator and aggregates the result.
type Orchestrator struct {
	registry *evaluators.Registry
	weights  map[string]float64
	timeouts map[string]time.Duration
}

// New builds an Orchestrator over registry. weights maps evaluator name to
// its composite share (falls back to the built-in default for any name it
// omits); timeouts bounds each evaluator's per-call duration (zero means no
// bound). Gates are not fixed at construction - they are supplied on every
// EvaluateAll call, since the threshold manager may tighten them as the
// learning store accumulates evidence.
func New(registry *evaluators.Registry, weights map[string]float64, timeouts map[string]time.Duration) *Orchestrator {
	merged := make(map[string]float64, len(defaultCompositeWeights))
	for name, w := range defaultCompositeWeights {
		merged[name] = w
	}
	for name, w := range weights {
		merged[name] = w
	}
	return &Orchestrator{registry: registry, weights: merged, timeouts: timeouts}
}

// EvaluateAll runs every registered evaluator against text concurrently and
// returns the combined outcome. gates maps evaluator name to the minimum
// score that evaluator must clear to pass; an evaluator with no configured
// gate never fails the overall pass on its own. An individual evaluator
// error is recorded as a failing score for that evaluator rather than
// aborting the others.
func (o *Orchestrator) EvaluateAll(ctx context.Context, logger logging.Logger, text string, evalCtx evaluators.Context, gates map[string]float64) (EvaluationOutcome, error) {
	all := o.registry.All()
	if len(all) == 0 {
		return EvaluationOutcome{}, fmt.Errorf("orchestrator: no evaluators registered")
	}

	var mu sync.Mutex
	perEvaluator := make(map[string]evaluators.Result, len(all))

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range all {
		e := e
		g.Go(func() error {
			callCtx := gctx
			if d, ok := o.timeouts[e.Name()]; ok && d > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, d)
				defer cancel()
			}

			result, err := e.Evaluate(callCtx, logger.WithContext(e.Name()), text, evalCtx)
			if err != nil {
				logger.Error(ctx, logging.LevelWarn, err, "evaluator %s failed, recording a failing score", e.Name())
				result = evaluators.Result{Score: 0, Details: map[string]any{"error": err.Error()}}
			}

			mu.Lock()
			perEvaluator[e.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EvaluationOutcome{}, err
	}

	overall := o.composite(perEvaluator)
	reasons := failingGates(perEvaluator, gates)

	return EvaluationOutcome{
		PerEvaluator: perEvaluator,
		Overall:      overall,
		Pass:         len(reasons) == 0,
		Reasons:      reasons,
	}, nil
}

// composite computes the weighted average over evaluators that actually
// produced a result, renormalizing so a missing evaluator does not silently
// depress the composite.
func (o *Orchestrator) composite(results map[string]evaluators.Result) float64 {
	var weightedSum, totalWeight float64
	for name, result := range results {
		w := o.weights[name]
		if w == 0 {
			w = 1
		}
		weightedSum += w * result.Score
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// failingGates returns a deterministically-ordered list of reasons, one per
// evaluator whose score fell below its configured gate. An evaluator with no
// configured gate never fails the overall pass on its own.
func failingGates(results map[string]evaluators.Result, gates map[string]float64) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var reasons []string
	for _, name := range names {
		gate, ok := gates[name]
		if !ok {
			continue
		}
		if results[name].Score < gate {
			reasons = append(reasons, fmt.Sprintf("%s scored %.3f, below gate %.3f", name, results[name].Score, gate))
		}
	}
	return reasons
}
