// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package forgecore wires the domain adapter, prompt assembler, parameter
// calculator, LLM client, quality orchestrator, learning store, and
// threshold manager behind a single per-call entry point: given a (domain,
// item, component) triple, produce a graded, persisted, logged generation.
package forgecore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/domain"
	"github.com/zbeamlabs/forgecore/evaluators"
	"github.com/zbeamlabs/forgecore/learning"
	"github.com/zbeamlabs/forgecore/llmclient"
	"github.com/zbeamlabs/forgecore/llmclient/execution"
	"github.com/zbeamlabs/forgecore/orchestrator"
	"github.com/zbeamlabs/forgecore/paramcalc"
	"github.com/zbeamlabs/forgecore/persistence"
	"github.com/zbeamlabs/forgecore/pkg/logging"
	"github.com/zbeamlabs/forgecore/prompt"
	"github.com/zbeamlabs/forgecore/retryloop"
	"github.com/zbeamlabs/forgecore/threshold"
	"github.com/zbeamlabs/forgecore/voice"
)

// ErrWiring indicates the application configuration does not reference a
// provider, run, domain, or evaluator that actually exists.
var ErrWiring = errors.New("wiring error")

// Result is the structured, caller-facing outcome of a single
// (domain, item, component) call. No stack traces or internal error chains
// surface here - operators see full context in logs instead.
type Result struct {
	Success            bool
	Text               string
	Scores             map[string]float64
	Attempts           int
	BestScore          float64
	ReasonsIfNotPassed []string
}

// Core is the generation-evaluation-learning core, ready to service calls
// once every component above it has been wired from configuration.
type Core struct {
	adapter   *domain.Adapter
	engine    *retryloop.Engine
	store     *learning.Store
	providers map[string]llmclient.Provider
}

// New loads every supporting store (learning database, voice profiles,
// prompt catalog) and wires a Core from cfg. configDir anchors every
// relative path cfg carries.
func New(ctx context.Context, cfg *config.Config, configDir string) (*Core, error) {
	core := cfg.Core

	store, err := learning.Open(config.MakeAbs(configDir, core.LearningStorePath))
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*Core, error) {
		store.Close() //nolint:errcheck
		return nil, err
	}

	adapter := domain.NewAdapter(configDir, core.Domains, persistence.NewLayer())

	assembler, err := prompt.Load(config.MakeAbs(configDir, core.PromptCatalogPath))
	if err != nil {
		return closeOnErr(err)
	}

	voices, err := voice.Load(config.MakeAbs(configDir, core.VoiceProfilesDir))
	if err != nil {
		return closeOnErr(err)
	}

	providers := make(map[string]llmclient.Provider, len(core.Providers))
	for _, providerCfg := range core.Providers {
		if providerCfg.Disabled {
			continue
		}
		p, err := llmclient.NewProvider(ctx, providerCfg)
		if err != nil {
			return closeOnErr(fmt.Errorf("%w: provider %q: %v", ErrWiring, providerCfg.Name, err))
		}
		providers[providerCfg.Name] = p
	}

	generationExecutor, err := resolveExecutor(providers, core, core.Generation.GenerationProvider, core.Generation.GenerationRun)
	if err != nil {
		return closeOnErr(err)
	}

	registry := evaluators.NewRegistry()
	registry.Register(evaluators.NewHumanLikenessEvaluator(core.HumanDetectionServiceURL, core.Generation.EvaluatorTimeouts[evaluators.HumanLikenessName]))
	registry.Register(evaluators.NewStructuralDiversityEvaluator())

	rubricProvider, ok := providers[core.Generation.RubricJudgeProvider]
	if !ok {
		return closeOnErr(fmt.Errorf("%w: rubric judge provider %q not configured or disabled", ErrWiring, core.Generation.RubricJudgeProvider))
	}
	rubricProviderCfg, _ := core.FindProvider(core.Generation.RubricJudgeProvider)
	rubricRun, ok := rubricProviderCfg.FindRun(core.Generation.RubricJudgeRun)
	if !ok {
		return closeOnErr(fmt.Errorf("%w: rubric judge run %q not found for provider %q", ErrWiring, core.Generation.RubricJudgeRun, core.Generation.RubricJudgeProvider))
	}
	rubric, err := evaluators.NewRubricEvaluator(rubricProvider, rubricRun)
	if err != nil {
		return closeOnErr(err)
	}
	registry.Register(rubric)

	orch := orchestrator.New(registry, core.Generation.CompositeWeights, core.Generation.EvaluatorTimeouts)
	calculator := paramcalc.NewCalculator(core.Generation, store)
	thresholds := threshold.New(store, core.Generation.ThresholdFallbacks, core.Generation.ThresholdMinSamples, 0)

	engine := retryloop.New(adapter, assembler, voices, calculator, generationExecutor, orch, store, thresholds, core.Generation)

	return &Core{adapter: adapter, engine: engine, store: store, providers: providers}, nil
}

func resolveExecutor(providers map[string]llmclient.Provider, core config.AppConfig, providerName, runName string) (*execution.Executor, error) {
	p, ok := providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: generation provider %q not configured or disabled", ErrWiring, providerName)
	}
	providerCfg, _ := core.FindProvider(providerName)
	run, ok := providerCfg.FindRun(runName)
	if !ok {
		return nil, fmt.Errorf("%w: generation run %q not found for provider %q", ErrWiring, runName, providerName)
	}
	return execution.NewExecutor(p, run), nil
}

// ListItems returns every item id configured under domainName, for callers
// that want to process a whole domain rather than a single named item.
func (c *Core) ListItems(ctx context.Context, domainName string) ([]string, error) {
	items, err := c.adapter.LoadAll(ctx, domainName)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids, nil
}

// Generate runs the retry-until-quality loop for (domainName, itemID,
// component) and returns the caller-facing result. The data file is updated
// unconditionally, regardless of Success. sessionID overrides the generated
// retry-session identifier when non-empty.
func (c *Core) Generate(ctx context.Context, logger logging.Logger, domainName, itemID, component, sessionID string) (Result, error) {
	out, err := c.engine.Run(ctx, logger, domainName, itemID, component, sessionID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:            out.Passed,
		Text:               out.BestText,
		Scores:             out.Scores,
		Attempts:           out.Attempts,
		BestScore:          out.BestScore,
		ReasonsIfNotPassed: out.Reasons,
	}, nil
}

// Close releases every provider client and the learning store.
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
