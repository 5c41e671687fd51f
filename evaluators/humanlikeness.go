// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package evaluators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// HumanLikenessName is this evaluator's registry name.
const HumanLikenessName = "human_likeness"

// detectionRequest is the payload sent to the external AI-detection service.
type detectionRequest struct {
	Text string `json:"text"`
}

// detectionResponse is the external service's native 0-100 percent-human
// scale, plus optional per-sentence sub-scores.
type detectionResponse struct {
	HumanPercent   float64   `json:"human_percent"`
	SentenceScores []float64 `json:"sentence_scores"`
}

// HumanLikenessEvaluator calls an external AI-detection service and
// normalizes its 0-100 percent-human score to [0,1] at this boundary - the
// only place in the system that scale conversion happens.
type HumanLikenessEvaluator struct {
	serviceURL string
	client     *http.Client
}

// NewHumanLikenessEvaluator constructs an evaluator bound to serviceURL,
// applying timeout to every call.
func NewHumanLikenessEvaluator(serviceURL string, timeout time.Duration) *HumanLikenessEvaluator {
	return &HumanLikenessEvaluator{serviceURL: serviceURL, client: &http.Client{Timeout: timeout}}
}

func (h *HumanLikenessEvaluator) Name() string { return HumanLikenessName }

func (h *HumanLikenessEvaluator) Evaluate(ctx context.Context, logger logging.Logger, text string, evalCtx Context) (Result, error) {
	body, err := json.Marshal(detectionRequest{Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.serviceURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: detection service returned status %d", ErrEvaluation, resp.StatusCode)
	}

	var parsed detectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	score := clampScore(parsed.HumanPercent / 100.0)
	logger.Message(ctx, logging.LevelDebug, "human-likeness score=%.3f for %s/%s", score, evalCtx.Domain, evalCtx.Component)

	return Result{
		Score: score,
		Details: map[string]any{
			"human_percent":   parsed.HumanPercent,
			"sentence_scores": parsed.SentenceScores,
		},
	}, nil
}
