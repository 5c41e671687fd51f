// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package evaluators

import (
	"context"
	"strings"

	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// StructuralName is this evaluator's registry name.
const StructuralName = "structural_diversity"

// openerWindow is how many leading words of a candidate are compared
// against recently-seen openers for variety.
const openerWindow = 6

// StructuralDiversityEvaluator is a pure function: no external calls, no
// randomness. It checks opener variety within a batch, absence of
// catalog-forbidden phrases, and a non-empty structural hint match.
type StructuralDiversityEvaluator struct{}

// NewStructuralDiversityEvaluator constructs a structural diversity evaluator.
func NewStructuralDiversityEvaluator() *StructuralDiversityEvaluator {
	return &StructuralDiversityEvaluator{}
}

func (s *StructuralDiversityEvaluator) Name() string { return StructuralName }

func (s *StructuralDiversityEvaluator) Evaluate(ctx context.Context, logger logging.Logger, text string, evalCtx Context) (Result, error) {
	var reasons []string

	opener := firstWords(text, openerWindow)
	if opener != "" && evalCtx.RecentOpeners.Any(func(seen string) bool {
		return strings.EqualFold(opener, firstWords(seen, openerWindow))
	}) {
		reasons = append(reasons, "opening pattern repeats a recent generation for this component")
	}

	lowerText := strings.ToLower(text)
	for _, phrase := range evalCtx.ForbiddenPhrases.Values() {
		if phrase != "" && strings.Contains(lowerText, strings.ToLower(phrase)) {
			reasons = append(reasons, "contains forbidden phrase: "+phrase)
		}
	}

	if evalCtx.StructuralHint != "" && !matchesStructuralHint(text, evalCtx.StructuralHint) {
		reasons = append(reasons, "does not match the declared structural pattern")
	}

	pass := len(reasons) == 0
	score := 0.0
	if pass {
		score = 1.0
	}

	logger.Message(ctx, logging.LevelDebug, "structural diversity pass=%t reasons=%d for %s/%s", pass, len(reasons), evalCtx.Domain, evalCtx.Component)

	return Result{
		Score: score,
		Details: map[string]any{
			"pass":    pass,
			"reasons": reasons,
			"opener":  opener,
		},
	}, nil
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.ToLower(strings.Join(words, " "))
}

// matchesStructuralHint is a light heuristic. A sentence-count hint like
// "2-3 sentences" matches any candidate with at least one terminal
// punctuation mark; the numbers in the hint are not compared with that
// count. A paragraph-count hint always matches; the number of
// blank-line-separated blocks is not checked.
func matchesStructuralHint(text, hint string) bool {
	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "sentence"):
		count := strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?")
		return count > 0
	case strings.Contains(hint, "paragraph"):
		blocks := strings.Split(strings.TrimSpace(text), "\n\n")
		return len(blocks) > 0
	default:
		return true
	}
}
