// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package evaluators implements the generation core's pluggable scoring
// subsystems: human-likeness detection, rubric-based realism/voice
// authenticity, and structural diversity. Every evaluator returns a score
// normalized to [0,1] regardless of its native scale; normalization happens
// at the evaluator boundary so mixed scales never leak downstream.
package evaluators

import (
	"context"
	"errors"

	"github.com/zbeamlabs/forgecore/pkg/logging"
	"github.com/zbeamlabs/forgecore/pkg/utils"
)

// ErrEvaluation indicates an evaluator could not produce a score: a
// transport failure, a timeout, or a malformed upstream response. The
// orchestrator converts this into a failing score for that evaluator rather
// than aborting the whole attempt.
var ErrEvaluation = errors.New("evaluator failure")

// Result is a single evaluator's verdict on one generation attempt.
type Result struct {
	// Score is normalized to [0,1]. Evaluator-specific native scales
	// (0-100 percent, 0-10 rubric) are converted at construction.
	Score float64
	// Details carries evaluator-specific context: sub-scores, rubric
	// narratives, matched forbidden phrases, and the like.
	Details map[string]any
	// AITendencies lists detected generic-AI writing tendencies, when the
	// evaluator is able to identify them (currently only the rubric evaluator).
	AITendencies []string
}

// Context carries the information an evaluator needs beyond the candidate
// text itself: the component/domain it was generated for, and whatever
// batch-level state (recent openers) structural diversity needs to compare
// against.
type Context struct {
	Domain           string
	Component        string
	ForbiddenPhrases utils.StringSet
	RecentOpeners    utils.StringSet
	StructuralHint   string
}

// Evaluator scores a single generation attempt against one quality
// dimension. Implementations must never panic on malformed upstream
// responses; they return ErrEvaluation instead, so the orchestrator can
// record a failing score and continue.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, logger logging.Logger, text string, evalCtx Context) (Result, error)
}

// clampScore keeps a normalized score inside [0,1], guarding against a
// malformed upstream value that is merely out of range rather than unusable.
func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
