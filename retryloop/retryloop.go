// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package retryloop drives the generation core's per-(domain, item,
// component) call: up to a configured number of attempts, each one
// calculated, generated, saved, scored, and logged, regardless of outcome.
// The best-scoring attempt across the whole session is what the caller
// ultimately gets back, even when it is not the last one tried.
package retryloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/domain"
	"github.com/zbeamlabs/forgecore/evaluators"
	"github.com/zbeamlabs/forgecore/learning"
	"github.com/zbeamlabs/forgecore/llmclient"
	"github.com/zbeamlabs/forgecore/llmclient/execution"
	"github.com/zbeamlabs/forgecore/orchestrator"
	"github.com/zbeamlabs/forgecore/paramcalc"
	"github.com/zbeamlabs/forgecore/pkg/logging"
	"github.com/zbeamlabs/forgecore/pkg/utils"
	"github.com/zbeamlabs/forgecore/prompt"
	"github.com/zbeamlabs/forgecore/threshold"
	"github.com/zbeamlabs/forgecore/voice"
)

// ErrRetry indicates the retry loop could not complete a call because of a
// configuration, data, or persistence failure - as opposed to a mere
// provider or evaluator failure, which is recorded as a failed attempt and
// retried instead.
var ErrRetry = errors.New("retry loop failure")

// recentOpenerWindow bounds how many recent successes are loaded for the
// structural diversity evaluator's opener-variety comparison.
const recentOpenerWindow = 20

// structuralPassScore is the fixed gate for the structural diversity
// evaluator: it only ever returns 1.0 (pass) or 0.0 (fail), so any gate
// strictly below 1.0 would be meaningless.
const structuralPassScore = 1.0

// Result is what a single (domain, item, component) call returns: the
// best-scoring attempt across the whole retry session, whether or not it
// ultimately passed every gate.
type Result struct {
	SessionID string
	Domain    string
	Item      string
	Component string
	Attempts  int
	Passed    bool
	BestScore float64
	BestText  string
	Scores    map[string]float64
	Reasons   []string
}

// attempt is one scored candidate considered for "best so far".
type attempt struct {
	text    string
	score   float64
	outcome orchestrator.EvaluationOutcome
}

// Engine wires every component the retry loop needs for a single call.
type Engine struct {
	adapter    *domain.Adapter
	assembler  *prompt.Assembler
	voices     *voice.Store
	calculator *paramcalc.Calculator
	executor   *execution.Executor
	orch       *orchestrator.Orchestrator
	store      *learning.Store
	thresholds *threshold.Manager
	cfg        config.GenerationConfig
}

// New builds an Engine. executor is bound to the provider+run configured for
// the main generation call (distinct from the rubric evaluator's own judge
// call executor).
func New(adapter *domain.Adapter, assembler *prompt.Assembler, voices *voice.Store, calculator *paramcalc.Calculator,
	executor *execution.Executor, orch *orchestrator.Orchestrator, store *learning.Store, thresholds *threshold.Manager,
	cfg config.GenerationConfig) *Engine {
	return &Engine{
		adapter:    adapter,
		assembler:  assembler,
		voices:     voices,
		calculator: calculator,
		executor:   executor,
		orch:       orch,
		store:      store,
		thresholds: thresholds,
		cfg:        cfg,
	}
}

// Run drives the retry-until-quality loop for (domainName, itemID,
// component). It always saves and always logs at least one attempt,
// regardless of outcome; it never returns without having written the
// best-scoring attempt to the domain's data file unless every attempt
// failed before producing any text at all. sessionID overrides the
// generated retry-session identifier when non-empty, letting a caller tie
// a call's attempts to an identifier chosen outside the core.
func (e *Engine) Run(ctx context.Context, logger logging.Logger, domainName, itemID, component, sessionID string) (Result, error) {
	item, err := e.adapter.GetItem(ctx, domainName, itemID)
	if err != nil {
		return Result{}, err
	}
	authorID, err := e.adapter.GetAuthorID(domainName, item)
	if err != nil {
		return Result{}, err
	}
	profile, err := e.voices.Get(authorID)
	if err != nil {
		return Result{}, err
	}
	contextKeys, err := e.adapter.ContextKeys(domainName)
	if err != nil {
		return Result{}, err
	}
	forbiddenPhrases, err := e.assembler.ForbiddenPhrases(domainName, component)
	if err != nil {
		return Result{}, err
	}
	strategy, ok := e.cfg.ComponentExtraction[component]
	if !ok {
		return Result{}, fmt.Errorf("%w: no extraction strategy configured for component %q", ErrRetry, component)
	}

	recentOpeners, err := e.recentOpeners(ctx, component, domainName)
	if err != nil {
		return Result{}, err
	}

	humanThreshold, err := e.thresholds.GetHumanLikenessThreshold(ctx, logger)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRetry, err)
	}
	realismThreshold, err := e.thresholds.GetRealismThreshold(ctx, logger)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRetry, err)
	}
	gates := map[string]float64{
		evaluators.HumanLikenessName: humanThreshold,
		evaluators.RubricName:        realismThreshold,
		evaluators.StructuralName:    structuralPassScore,
	}

	session := sessionID
	if session == "" {
		session = uuid.NewString()
	}
	var best *attempt
	var lastFailure paramcalc.FailureType
	attemptsRun := 0

	for n := 1; n <= e.cfg.MaxAttempts; n++ {
		attemptsRun = n
		if ctx.Err() != nil {
			break
		}

		params, err := e.calculator.Calculate(ctx, component, domainName, authorID, n, paramcalc.Context{LastFailure: lastFailure})
		if err != nil {
			return Result{}, fmt.Errorf("%w: calculate parameters for attempt %d: %v", ErrRetry, n, err)
		}

		sys, usr, structuralHint, err := e.assembler.Build(domainName, component, item, contextKeys, profile.CoreVoiceInstruction)
		if err != nil {
			return Result{}, err
		}

		resp, genErr := e.executor.Execute(ctx, logger.WithContext("llm"), llmclient.Request{
			SystemPrompt: sys,
			UserPrompt:   usr,
			Params:       params,
		})
		if genErr != nil {
			logger.Error(ctx, logging.LevelWarn, genErr, "attempt %d/%d generation failed for %s/%s/%s", n, e.cfg.MaxAttempts, domainName, itemID, component)
			if _, logErr := e.store.LogGeneration(ctx, e.failedAttemptRecord(domainName, itemID, component, authorID, session, n, params)); logErr != nil {
				return Result{}, logErr
			}
			lastFailure = paramcalc.FailureOther
			continue
		}

		extracted, err := extractContent(resp.Text, strategy, structuralHint)
		if err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "attempt %d/%d extraction failed for %s/%s/%s", n, e.cfg.MaxAttempts, domainName, itemID, component)
			if _, logErr := e.store.LogGeneration(ctx, e.failedAttemptRecord(domainName, itemID, component, authorID, session, n, params)); logErr != nil {
				return Result{}, logErr
			}
			lastFailure = paramcalc.FailureOther
			continue
		}

		if err := e.adapter.SaveItem(ctx, domainName, itemID, component, extracted); err != nil {
			return Result{}, fmt.Errorf("%w: save attempt %d: %v", ErrRetry, n, err)
		}

		evalCtx := evaluators.Context{
			Domain:           domainName,
			Component:        component,
			ForbiddenPhrases: forbiddenPhrases,
			RecentOpeners:    recentOpeners,
			StructuralHint:   structuralHint,
		}
		outcome, err := e.orch.EvaluateAll(ctx, logger.WithContext("orchestrator"), extracted, evalCtx, gates)
		if err != nil {
			return Result{}, fmt.Errorf("%w: evaluate attempt %d: %v", ErrRetry, n, err)
		}

		overall := outcome.Overall
		genID, err := e.store.LogGeneration(ctx, learning.GenerationRecord{
			Timestamp:      time.Now(),
			Domain:         domainName,
			Item:           itemID,
			Component:      component,
			AuthorID:       authorID,
			RetrySessionID: session,
			AttemptOrdinal: n,
			IsRetry:        n > 1,
			Content:        extracted,
			OverallScore:   &overall,
			Passed:         outcome.Pass,
			Params:         params,
		})
		if err != nil {
			return Result{}, err
		}

		for _, name := range sortedEvaluatorNames(outcome.PerEvaluator) {
			result := outcome.PerEvaluator[name]
			if err := e.store.LogEvaluation(ctx, genID, name, result.Score, result.Details); err != nil {
				return Result{}, err
			}
		}

		if rubric, ok := outcome.PerEvaluator[evaluators.RubricName]; ok {
			if criteria := rubricCriteria(rubric); len(criteria) > 0 {
				if err := e.store.LogRubricCriteria(ctx, genID, criteria); err != nil {
					return Result{}, err
				}
			}
		}

		if outcome.Pass {
			if err := e.store.RecordSweetSpotSample(ctx, component, domainName, learning.ParamHash(params), overall); err != nil {
				return Result{}, err
			}
		}

		recentOpeners = recentOpeners.Add(extracted)

		if best == nil || overall > best.score {
			best = &attempt{text: extracted, score: overall, outcome: outcome}
		}

		if outcome.Pass {
			break
		}
		lastFailure = classify(gates, outcome)
	}

	if best == nil {
		return Result{
			SessionID: session,
			Domain:    domainName,
			Item:      itemID,
			Component: component,
			Attempts:  attemptsRun,
			Passed:    false,
		}, nil
	}

	// Every attempt already saved unconditionally, but the best one is not
	// necessarily the last one written - restore it explicitly so the data
	// file ends the call holding the best-scoring candidate.
	if err := e.adapter.SaveItem(ctx, domainName, itemID, component, best.text); err != nil {
		return Result{}, fmt.Errorf("%w: final best-candidate save: %v", ErrRetry, err)
	}

	return Result{
		SessionID: session,
		Domain:    domainName,
		Item:      itemID,
		Component: component,
		Attempts:  attemptsRun,
		Passed:    best.outcome.Pass,
		BestScore: best.score,
		BestText:  best.text,
		Scores:    scoresOf(best.outcome),
		Reasons:   best.outcome.Reasons,
	}, nil
}

func scoresOf(outcome orchestrator.EvaluationOutcome) map[string]float64 {
	scores := make(map[string]float64, len(outcome.PerEvaluator))
	for name, result := range outcome.PerEvaluator {
		scores[name] = result.Score
	}
	return scores
}

func (e *Engine) failedAttemptRecord(domainName, itemID, component string, authorID int, session string, attempt int, params paramcalc.GenerationParameters) learning.GenerationRecord {
	return learning.GenerationRecord{
		Timestamp:      time.Now(),
		Domain:         domainName,
		Item:           itemID,
		Component:      component,
		AuthorID:       authorID,
		RetrySessionID: session,
		AttemptOrdinal: attempt,
		IsRetry:        attempt > 1,
		Content:        "",
		OverallScore:   nil,
		Passed:         false,
		Params:         params,
	}
}

// recentOpeners loads the recent passed generations for (component, domain)
// so the structural diversity evaluator can compare this attempt's opening
// against what has recently shipped for the same slot.
func (e *Engine) recentOpeners(ctx context.Context, component, domainName string) (utils.StringSet, error) {
	successes, err := e.store.RecentSuccesses(ctx, component, domainName, recentOpenerWindow)
	if err != nil {
		return utils.StringSet{}, fmt.Errorf("%w: load recent successes: %v", ErrRetry, err)
	}
	openers := make([]string, 0, len(successes))
	for _, s := range successes {
		openers = append(openers, s.Content)
	}
	return utils.NewStringSet(openers...), nil
}

// classify maps the just-completed attempt's outcome onto a FailureType for
// the next attempt's parameter adaptation.
func classify(gates map[string]float64, outcome orchestrator.EvaluationOutcome) paramcalc.FailureType {
	humanLikeness := outcome.PerEvaluator[evaluators.HumanLikenessName].Score

	var gateMargin float64
	first := true
	passedCount, failedCount := 0, 0
	for name, gate := range gates {
		result, ok := outcome.PerEvaluator[name]
		if !ok {
			continue
		}
		margin := result.Score - gate
		if margin < 0 {
			failedCount++
			if first || margin < gateMargin {
				gateMargin = margin
				first = false
			}
		} else {
			passedCount++
		}
	}
	partialPass := passedCount > 0 && failedCount > 0
	return paramcalc.ClassifyFailure(humanLikeness, gateMargin, partialPass)
}

func sortedEvaluatorNames(m map[string]evaluators.Result) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rubricCriteria turns the rubric evaluator's raw-scale details into the
// learning store's per-criterion rows. Only Overall Realism gates; voice
// authenticity and tonal consistency are logged for analysis only.
func rubricCriteria(rubric evaluators.Result) []learning.RubricCriterion {
	overall, ok := rubric.Details["overall_realism"].(float64)
	if !ok {
		return nil
	}
	voiceScore, _ := rubric.Details["voice_authenticity"].(float64)
	tonal, _ := rubric.Details["tonal_consistency"].(float64)
	gate, _ := rubric.Details["gate"].(float64)

	return []learning.RubricCriterion{
		{Key: "overall_realism", Score: overall, MinScore: gate * 10, Pass: overall/10 >= gate},
		{Key: "voice_authenticity", Score: voiceScore, MinScore: 0, Pass: true},
		{Key: "tonal_consistency", Score: tonal, MinScore: 0, Pass: true},
	}
}

// extractContent converts a raw LLM response into the text actually
// persisted, according to the component's configured extraction strategy.
func extractContent(raw string, strategy config.ExtractionStrategy, structuralHint string) (string, error) {
	switch strategy {
	case config.ExtractionRaw:
		return strings.TrimSpace(raw), nil
	case config.ExtractionBeforeAfter:
		return extractBeforeAfter(raw, structuralHint), nil
	case config.ExtractionJSONList:
		return extractJSONList(raw, structuralHint)
	default:
		return "", fmt.Errorf("%w: unrecognized extraction strategy %q", ErrRetry, strategy)
	}
}

// extractBeforeAfter splits on the first blank line and keeps whichever
// paragraph the structural hint designates; a hint mentioning "before" keeps
// the lead paragraph, anything else keeps what follows it.
func extractBeforeAfter(raw, structuralHint string) string {
	parts := strings.SplitN(strings.TrimSpace(raw), "\n\n", 2)
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0])
	}
	if strings.Contains(strings.ToLower(structuralHint), "before") {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(parts[1])
}

// extractJSONList parses raw as a JSON array of strings and rejoins it with a
// separator implied by the structural hint: blank-line-separated for a
// paragraph directive, single-space-separated otherwise.
func extractJSONList(raw, structuralHint string) (string, error) {
	var items []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return "", fmt.Errorf("%w: parse json-list response: %v", ErrRetry, err)
	}
	separator := " "
	if strings.Contains(strings.ToLower(structuralHint), "paragraph") {
		separator = "\n\n"
	}
	return strings.Join(items, separator), nil
}
