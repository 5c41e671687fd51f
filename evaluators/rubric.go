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
	"strings"
	"text/template"

	"github.com/invopop/jsonschema"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/llmclient"
	"github.com/zbeamlabs/forgecore/llmclient/execution"
	"github.com/zbeamlabs/forgecore/paramcalc"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// RubricName is this evaluator's registry name.
const RubricName = "rubric_realism"

// realismGateThreshold is the normalized gate on Overall Realism (raw scale 7.0/10).
const realismGateThreshold = 0.7

// rubricResponse is the strict JSON contract the judge model must follow.
type rubricResponse struct {
	OverallRealism      float64  `json:"overall_realism" jsonschema:"minimum=0,maximum=10,description=Overall believability as human-written text, 0-10"`
	OverallNarrative    string   `json:"overall_narrative" jsonschema:"description=One or two sentences justifying the overall score"`
	VoiceAuthenticity   float64  `json:"voice_authenticity" jsonschema:"minimum=0,maximum=10,description=How closely the text matches the requested author voice, 0-10"`
	VoiceNarrative      string   `json:"voice_narrative"`
	TonalConsistency    float64  `json:"tonal_consistency" jsonschema:"minimum=0,maximum=10,description=Consistency of tone across the whole text, 0-10"`
	TonalNarrative      string   `json:"tonal_narrative"`
	AITendencies        []string `json:"ai_tendencies" jsonschema:"description=Detected generic-AI writing tendencies such as generic language, unnatural transitions, excessive enthusiasm, rigid structure, theatrical phrases, filler words, passive overuse, hedging"`
}

const judgePromptTemplate = `You are grading a generated piece of text for how convincingly it reads as
content written by a human author, not a language model.

Score the text below on three dimensions, each 0-10:
- overall_realism: overall believability as human-written text.
- voice_authenticity: how closely it matches the intended author voice.
- tonal_consistency: consistency of tone from start to end.

Also list any detected generic-AI writing tendencies (e.g. generic language,
unnatural transitions, excessive enthusiasm, rigid structure, theatrical
phrases, filler words, passive overuse, hedging).

Respond with JSON matching this schema exactly, no extra commentary:
{{.Schema}}

Text to grade:
"""
{{.Text}}
"""
`

// RubricEvaluator calls an LLM judge with a strict JSON contract across
// three named dimensions, gating only on Overall Realism.
type RubricEvaluator struct {
	executor *execution.Executor
	template *template.Template
	params   paramcalc.GenerationParameters
}

// NewRubricEvaluator constructs a rubric-realism evaluator that judges
// candidate text via provider/run.
func NewRubricEvaluator(provider llmclient.Provider, run config.RunConfig) (*RubricEvaluator, error) {
	tmpl, err := template.New("rubric-judge").Parse(judgePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	params, err := judgeParameters()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	return &RubricEvaluator{
		executor: execution.NewExecutor(provider, run),
		template: tmpl,
		params:   params,
	}, nil
}

// judgeParameters builds a deterministic, low-temperature parameter bundle
// for judge calls: the rubric evaluator reuses the generation core's own
// LLM client abstraction rather than a bespoke judging path.
func judgeParameters() (paramcalc.GenerationParameters, error) {
	return paramcalc.New(0.3, 800, 0, 0,
		paramcalc.VoiceVector{},
		paramcalc.Enrichment{DetailDensity: 1, DigressionRate: 1, ExampleDensity: 1, FactFormat: paramcalc.FactFormatNarrative},
		paramcalc.Validation{HumanLikenessThreshold: 0, RealismMinimum: 0, ReadabilityMin: 0, ReadabilityMax: 1},
		paramcalc.RetryPolicy{MaxAttempts: 1, PerAttemptTempDelta: 0},
		false,
	)
}

func (r *RubricEvaluator) Name() string { return RubricName }

func (r *RubricEvaluator) Evaluate(ctx context.Context, logger logging.Logger, text string, evalCtx Context) (Result, error) {
	schema, err := json.MarshalIndent(jsonschema.Reflect(&rubricResponse{}), "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	var rendered bytes.Buffer
	if err := r.template.Execute(&rendered, struct {
		Schema string
		Text   string
	}{Schema: string(schema), Text: text}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	resp, err := r.executor.Execute(ctx, logger.WithContext("rubric_judge"), llmclient.Request{
		SystemPrompt: "You are a meticulous, concise text-quality grader.",
		UserPrompt:   rendered.String(),
		Params:       r.params,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	var parsed rubricResponse
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: malformed judge response: %v", ErrEvaluation, err)
	}

	overall := clampScore(parsed.OverallRealism / 10.0)
	logger.Message(ctx, logging.LevelDebug, "rubric realism=%.3f voice=%.1f tonal=%.1f for %s/%s",
		overall, parsed.VoiceAuthenticity, parsed.TonalConsistency, evalCtx.Domain, evalCtx.Component)

	return Result{
		Score: overall,
		Details: map[string]any{
			"overall_realism":    parsed.OverallRealism,
			"overall_narrative":  parsed.OverallNarrative,
			"voice_authenticity": parsed.VoiceAuthenticity,
			"voice_narrative":    parsed.VoiceNarrative,
			"tonal_consistency":  parsed.TonalConsistency,
			"tonal_narrative":    parsed.TonalNarrative,
			"gate":               realismGateThreshold,
		},
		AITendencies: parsed.AITendencies,
	}, nil
}

// extractJSON strips any leading/trailing prose a model adds despite
// instructions, keeping only the outermost JSON object.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
