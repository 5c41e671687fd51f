// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package paramcalc

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/utils"
)

// FailureType classifies the previous attempt's failure mode, driving the
// adaptation applied in step 4 of Calculate. The zero value means "no prior
// attempt" (this is attempt 1).
type FailureType string

const (
	// FailureUniformLow means the previous attempt's human-likeness score was
	// low across the board, not merely borderline.
	FailureUniformLow FailureType = "uniform_low_human_likeness"
	// FailureBorderline means the previous attempt narrowly missed a gate.
	FailureBorderline FailureType = "borderline"
	// FailurePartial means the previous attempt passed some gates but not all.
	FailurePartial FailureType = "partial"
	// FailureOther covers any failure not matching a recognized case; the
	// configured retry-temperature-delta applies.
	FailureOther FailureType = "other"
)

// Thresholds used to classify the magnitude of a human-likeness failure.
const (
	uniformLowHumanLikeness = 0.40
	borderlineMargin        = 0.05
)

// ClassifyFailure maps a previous attempt's human-likeness score and overall
// gate outcome onto a FailureType, for use as the Context.LastFailure input
// to the next attempt's Calculate call. humanLikeness and gateMargin (signed
// distance of the failing gate's score from its threshold; negative means
// failed) follow the orchestrator's per-evaluator scores.
func ClassifyFailure(humanLikeness float64, gateMargin float64, partialPass bool) FailureType {
	switch {
	case humanLikeness < uniformLowHumanLikeness:
		return FailureUniformLow
	case gateMargin < 0 && -gateMargin <= borderlineMargin:
		return FailureBorderline
	case partialPass:
		return FailurePartial
	default:
		return FailureOther
	}
}

// SweetSpotCentral is the learning store's derived central tendency for a
// (component, domain) pair, blended into the calculated parameters once
// enough qualifying samples exist.
type SweetSpotCentral struct {
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
	VoiceVector      VoiceVector
}

// SweetSpotLookup abstracts the learning store's sweet-spot query. The
// calculator depends only on this narrow interface, not on the learning
// package, to keep the dependency graph acyclic (learning depends on nothing
// in paramcalc beyond the value types it persists).
type SweetSpotLookup interface {
	SweetSpot(ctx context.Context, component, domain string, minSamples int) (central SweetSpotCentral, nSamples int, ok bool)
}

// Context carries the inputs to Calculate that vary per attempt beyond the
// (component, author, domain, attempt) tuple: the classified failure mode of
// the immediately preceding attempt, if any.
type Context struct {
	LastFailure FailureType
}

// sweetSpotBlendWeight is how strongly the learned central tendency pulls the
// slider-derived baseline once threshold_min_samples qualifying samples exist.
const sweetSpotBlendWeight = 0.35

// explorationNoiseSpread bounds the temperature jitter applied by step 5.
const explorationNoiseSpread = 0.05

// Calculator maps the operator-facing intensity sliders
// onto a complete, validated GenerationParameters bundle, optionally blended
// with the learning store's sweet spot and adapted to the previous attempt's
// failure mode.
type Calculator struct {
	cfg        config.GenerationConfig
	sweetSpots SweetSpotLookup
	rng        func() float64
}

// NewCalculator constructs a Calculator from the generation configuration and
// a sweet-spot lookup backed by the learning store.
func NewCalculator(cfg config.GenerationConfig, sweetSpots SweetSpotLookup) *Calculator {
	return &Calculator{
		cfg:        cfg,
		sweetSpots: sweetSpots,
		rng:        rand.Float64,
	}
}

// Calculate implements the five-step slider-to-parameters algorithm. component and domain
// identify the (component, domain) sweet-spot lookup key; authorID seeds the
// deterministic per-author offset; attempt is 1-based.
func (c *Calculator) Calculate(ctx context.Context, component, domain string, authorID int, attempt int, attemptCtx Context) (GenerationParameters, error) {
	temperature, frequencyPenalty, presencePenalty := c.baseFromSliders()
	voice := c.baseVoiceVector()

	temperature, frequencyPenalty, presencePenalty, voice = applyAuthorOffset(authorID, temperature, frequencyPenalty, presencePenalty, voice)

	if c.sweetSpots != nil {
		if central, n, ok := c.sweetSpots.SweetSpot(ctx, component, domain, c.cfg.ThresholdMinSamples); ok && n >= c.cfg.ThresholdMinSamples {
			temperature = blend(temperature, central.Temperature, sweetSpotBlendWeight)
			frequencyPenalty = blend(frequencyPenalty, central.FrequencyPenalty, sweetSpotBlendWeight)
			presencePenalty = blend(presencePenalty, central.PresencePenalty, sweetSpotBlendWeight)
			voice = blendVoice(voice, central.VoiceVector, sweetSpotBlendWeight)
		}
	}

	explored := false
	if attempt > 1 {
		temperature = c.adapt(temperature, attemptCtx.LastFailure)

		if c.rng() < c.cfg.ExplorationProbability {
			temperature = utils.Clamp(temperature+(c.rng()*2-1)*explorationNoiseSpread, 0.3, 1.1)
			explored = true
		}
	}

	enrichment := c.baseEnrichment()
	validation := c.baseValidation()
	retry := RetryPolicy{
		MaxAttempts:         c.cfg.MaxAttempts,
		PerAttemptTempDelta: c.cfg.RetryTemperatureDelta,
	}

	return New(temperature, c.baseMaxTokens(enrichment), frequencyPenalty, presencePenalty, voice, enrichment, validation, retry, explored)
}

// baseFromSliders implements step 1: a pure mapping from the 1-10 humanness
// and realism sliders to penalty and temperature baselines. Humanness 1-3
// yields zero penalties; 4-7 ramps linearly to 0.6; 8-10 ramps to 1.2.
// Temperature ramps linearly across the full realism slider range.
func (c *Calculator) baseFromSliders() (temperature, frequencyPenalty, presencePenalty float64) {
	penalty := penaltyRamp(c.cfg.HumannessIntensity)
	temperature = 0.3 + sliderFraction(c.cfg.RealismIntensity)*(1.1-0.3)
	return utils.Clamp(temperature, 0.3, 1.1), penalty, penalty
}

// penaltyRamp maps a 1-10 slider to the configured penalty bands.
func penaltyRamp(intensity int) float64 {
	switch {
	case intensity <= 3:
		return 0.0
	case intensity <= 7:
		return 0.0 + (float64(intensity-3)/4.0)*(0.6-0.0)
	default:
		return 0.6 + (float64(intensity-7)/3.0)*(1.2-0.6)
	}
}

// sliderFraction maps a 1-10 slider linearly onto [0,1].
func sliderFraction(slider int) float64 {
	return float64(slider-1) / 9.0
}

// baseVoiceVector derives the eight voice-vector components from the realism
// slider. Each component scales with slider intensity but at a distinct rate,
// so that distinct authors/components produce distinguishable vectors even at
// the same slider value once author offsets and sweet-spot blending apply.
func (c *Calculator) baseVoiceVector() VoiceVector {
	f := sliderFraction(c.cfg.RealismIntensity)
	return VoiceVector{
		TraitFrequency:           utils.Clamp(0.20+0.60*f, 0, 1),
		OpinionRate:              utils.Clamp(0.10+0.50*f, 0, 1),
		ReaderAddressRate:        utils.Clamp(0.05+0.35*f, 0, 1),
		ColloquialismFrequency:   utils.Clamp(0.15+0.55*f, 0, 1),
		StructuralPredictability: utils.Clamp(0.70-0.50*f, 0, 1),
		EmotionalTone:            utils.Clamp(0.10+0.45*f, 0, 1),
		ImperfectionTolerance:    utils.Clamp(0.05+0.60*f, 0, 1),
		SentenceRhythmVariation:  utils.Clamp(0.20+0.60*f, 0, 1),
	}
}

func (c *Calculator) baseEnrichment() Enrichment {
	f := sliderFraction(c.cfg.RealismIntensity)
	return Enrichment{
		DetailDensity:  knobFromFraction(f),
		DigressionRate: knobFromFraction(f),
		ExampleDensity: knobFromFraction(f),
		FactFormat:     FactFormatNarrative,
	}
}

func knobFromFraction(f float64) int {
	switch {
	case f < 1.0/3.0:
		return 1
	case f < 2.0/3.0:
		return 2
	default:
		return 3
	}
}

func (c *Calculator) baseValidation() Validation {
	humanLikeness := c.cfg.ThresholdFallbacks["human_likeness"]
	return Validation{
		HumanLikenessThreshold: humanLikeness,
		RealismMinimum:         7.0,
		ReadabilityMin:         0,
		ReadabilityMax:         1,
	}
}

func (c *Calculator) baseMaxTokens(enrichment Enrichment) int {
	density := enrichment.DetailDensity + enrichment.DigressionRate + enrichment.ExampleDensity
	return 500 + density*100
}

// adapt implements step 4: adjusting temperature based on the previous
// attempt's classified failure mode.
func (c *Calculator) adapt(temperature float64, failure FailureType) float64 {
	switch failure {
	case FailureUniformLow:
		return utils.Clamp(temperature+0.15, 0.3, 1.0)
	case FailureBorderline:
		return utils.Clamp(temperature-0.03, 0.3, 1.1)
	case FailurePartial:
		return utils.Clamp(temperature+0.08, 0.3, 1.1)
	default:
		return utils.Clamp(temperature+c.cfg.RetryTemperatureDelta, 0.3, 1.1)
	}
}

// applyAuthorOffset applies a small deterministic per-author jitter derived
// from the author id, so distinct authors with identical sliders still
// produce distinguishable parameter bundles without needing additional
// authored configuration.
func applyAuthorOffset(authorID int, temperature, frequencyPenalty, presencePenalty float64, voice VoiceVector) (float64, float64, float64, VoiceVector) {
	offset := authorOffset(authorID)
	temperature = utils.Clamp(temperature+offset*0.05, 0.3, 1.1)
	frequencyPenalty = utils.Clamp(frequencyPenalty+offset*0.1, 0, 2)
	presencePenalty = utils.Clamp(presencePenalty+offset*0.1, 0, 2)
	voice.ColloquialismFrequency = utils.Clamp(voice.ColloquialismFrequency+offset*0.05, 0, 1)
	voice.EmotionalTone = utils.Clamp(voice.EmotionalTone+offset*0.05, 0, 1)
	return temperature, frequencyPenalty, presencePenalty, voice
}

// authorOffset derives a stable value in [-1,1] from the author id, so the
// same author always receives the same offset across calls and processes.
func authorOffset(authorID int) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(authorID), byte(authorID >> 8), byte(authorID >> 16), byte(authorID >> 24)})
	normalized := float64(h.Sum32()%1000) / 1000.0 // [0,1)
	return normalized*2 - 1                        // [-1,1)
}

func blend(base, learned, weight float64) float64 {
	return base*(1-weight) + learned*weight
}

func blendVoice(base, learned VoiceVector, weight float64) VoiceVector {
	return VoiceVector{
		TraitFrequency:           blend(base.TraitFrequency, learned.TraitFrequency, weight),
		OpinionRate:              blend(base.OpinionRate, learned.OpinionRate, weight),
		ReaderAddressRate:        blend(base.ReaderAddressRate, learned.ReaderAddressRate, weight),
		ColloquialismFrequency:   blend(base.ColloquialismFrequency, learned.ColloquialismFrequency, weight),
		StructuralPredictability: blend(base.StructuralPredictability, learned.StructuralPredictability, weight),
		EmotionalTone:            blend(base.EmotionalTone, learned.EmotionalTone, weight),
		ImperfectionTolerance:    blend(base.ImperfectionTolerance, learned.ImperfectionTolerance, weight),
		SentenceRhythmVariation:  blend(base.SentenceRhythmVariation, learned.SentenceRhythmVariation, weight),
	}
}
