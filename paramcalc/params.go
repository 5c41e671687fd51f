// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package paramcalc maps operator-facing intensity sliders onto the complete,
// immutable set of generation parameters applied to an LLM request. Every
// constructed GenerationParameters value has already been range-validated;
// nothing downstream silently substitutes a default for an out-of-range
// component.
package paramcalc

import (
	"errors"
	"fmt"

	"github.com/zbeamlabs/forgecore/pkg/utils"
)

// ErrInvalidParameter indicates a generation parameter is out of its valid range.
var ErrInvalidParameter = errors.New("invalid generation parameter")

// FactFormat selects how numeric/structured facts are woven into generated text.
type FactFormat string

const (
	// FactFormatNarrative weaves facts into flowing prose.
	FactFormatNarrative FactFormat = "narrative"
	// FactFormatEnumerated calls out facts as a short enumerated list.
	FactFormatEnumerated FactFormat = "enumerated"
	// FactFormatInline keeps facts as brief inline parentheticals.
	FactFormatInline FactFormat = "inline"
)

// VoiceVector holds the eight [0,1] components that drive perceived authorial
// style. None of these are word counts or literal text; they parameterize the
// prompt's voice-instruction framing and the structural diversity evaluator's
// expectations.
type VoiceVector struct {
	TraitFrequency             float64
	OpinionRate                float64
	ReaderAddressRate          float64
	ColloquialismFrequency     float64
	StructuralPredictability   float64
	EmotionalTone              float64
	ImperfectionTolerance      float64
	SentenceRhythmVariation    float64
}

func (v VoiceVector) validate() error {
	components := map[string]float64{
		"trait_frequency":           v.TraitFrequency,
		"opinion_rate":              v.OpinionRate,
		"reader_address_rate":       v.ReaderAddressRate,
		"colloquialism_frequency":   v.ColloquialismFrequency,
		"structural_predictability": v.StructuralPredictability,
		"emotional_tone":            v.EmotionalTone,
		"imperfection_tolerance":    v.ImperfectionTolerance,
		"sentence_rhythm_variation": v.SentenceRhythmVariation,
	}
	for _, name := range utils.SortedKeys(components) {
		value := components[name]
		if value < 0 || value > 1 {
			return fmt.Errorf("%w: voice_vector.%s=%v out of range [0,1]", ErrInvalidParameter, name, value)
		}
	}
	return nil
}

// Enrichment holds the small-integer knobs that control how densely an
// attempt layers in supporting detail, plus the fact-formatting strategy.
type Enrichment struct {
	// DetailDensity, DigressionRate, and ExampleDensity are each in {1,2,3}.
	DetailDensity   int
	DigressionRate  int
	ExampleDensity  int
	FactFormat      FactFormat
}

func (e Enrichment) validate() error {
	knobs := map[string]int{
		"detail_density":  e.DetailDensity,
		"digression_rate": e.DigressionRate,
		"example_density": e.ExampleDensity,
	}
	for _, name := range utils.SortedKeys(knobs) {
		value := knobs[name]
		if value < 1 || value > 3 {
			return fmt.Errorf("%w: enrichment.%s=%d out of range {1,2,3}", ErrInvalidParameter, name, value)
		}
	}
	switch e.FactFormat {
	case FactFormatNarrative, FactFormatEnumerated, FactFormatInline:
	default:
		return fmt.Errorf("%w: enrichment.fact_format=%q unrecognized", ErrInvalidParameter, e.FactFormat)
	}
	return nil
}

// Validation holds the quality-gate thresholds an attempt was generated
// against, recorded alongside the generation parameters so the learning
// store can later explain why a given attempt passed or failed.
type Validation struct {
	HumanLikenessThreshold float64 // ∈ [0,1]
	RealismMinimum         float64 // ∈ [0,10]
	ReadabilityMin         float64
	ReadabilityMax         float64
}

func (v Validation) validate() error {
	if v.HumanLikenessThreshold < 0 || v.HumanLikenessThreshold > 1 {
		return fmt.Errorf("%w: validation.human_likeness_threshold=%v out of range [0,1]", ErrInvalidParameter, v.HumanLikenessThreshold)
	}
	if v.RealismMinimum < 0 || v.RealismMinimum > 10 {
		return fmt.Errorf("%w: validation.realism_minimum=%v out of range [0,10]", ErrInvalidParameter, v.RealismMinimum)
	}
	if v.ReadabilityMin > v.ReadabilityMax {
		return fmt.Errorf("%w: validation.readability_min=%v exceeds readability_max=%v", ErrInvalidParameter, v.ReadabilityMin, v.ReadabilityMax)
	}
	return nil
}

// RetryPolicy holds the retry-loop-facing parameters that traveled with this
// particular attempt's parameter bundle (as opposed to transport-level retry,
// which belongs to the LLM client).
type RetryPolicy struct {
	MaxAttempts           int
	PerAttemptTempDelta   float64
}

func (r RetryPolicy) validate() error {
	if r.MaxAttempts < 1 || r.MaxAttempts > 10 {
		return fmt.Errorf("%w: retry.max_attempts=%d out of range [1,10]", ErrInvalidParameter, r.MaxAttempts)
	}
	if r.PerAttemptTempDelta < 0 || r.PerAttemptTempDelta > 1 {
		return fmt.Errorf("%w: retry.per_attempt_temp_delta=%v out of range [0,1]", ErrInvalidParameter, r.PerAttemptTempDelta)
	}
	return nil
}

// GenerationParameters is the complete, immutable bundle of concrete values
// applied to a single generation attempt. Construct only via New, which
// validates eagerly and fails the whole call rather than silently clamping
// or defaulting an out-of-range component.
type GenerationParameters struct {
	Temperature      float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
	VoiceVector      VoiceVector
	Enrichment       Enrichment
	Validation       Validation
	Retry            RetryPolicy

	// explored records whether bounded exploration noise was
	// layered onto this bundle. Not part of the spec's core data model;
	// carried purely as an in-process audit trail for the retry loop's logs.
	explored bool
}

// New validates and constructs an immutable GenerationParameters bundle.
// Every field is checked; the first violation aborts construction.
func New(temperature float64, maxTokens int, frequencyPenalty, presencePenalty float64,
	voice VoiceVector, enrichment Enrichment, validation Validation, retry RetryPolicy, explored bool) (GenerationParameters, error) {
	p := GenerationParameters{
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		FrequencyPenalty: frequencyPenalty,
		PresencePenalty:  presencePenalty,
		VoiceVector:      voice,
		Enrichment:       enrichment,
		Validation:       validation,
		Retry:            retry,
		explored:         explored,
	}
	if err := p.validate(); err != nil {
		return GenerationParameters{}, err
	}
	return p, nil
}

func (p GenerationParameters) validate() error {
	if p.Temperature < 0.3 || p.Temperature > 1.1 {
		return fmt.Errorf("%w: temperature=%v out of range [0.3,1.1]", ErrInvalidParameter, p.Temperature)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens=%d must be positive", ErrInvalidParameter, p.MaxTokens)
	}
	if p.FrequencyPenalty < 0 || p.FrequencyPenalty > 2 {
		return fmt.Errorf("%w: frequency_penalty=%v out of range [0,2]", ErrInvalidParameter, p.FrequencyPenalty)
	}
	if p.PresencePenalty < 0 || p.PresencePenalty > 2 {
		return fmt.Errorf("%w: presence_penalty=%v out of range [0,2]", ErrInvalidParameter, p.PresencePenalty)
	}
	if err := p.VoiceVector.validate(); err != nil {
		return err
	}
	if err := p.Enrichment.validate(); err != nil {
		return err
	}
	if err := p.Validation.validate(); err != nil {
		return err
	}
	return p.Retry.validate()
}

// WasExplored reports whether bounded exploration noise was applied when
// this bundle was calculated (with the configured exploration probability
// on retry attempts).
func (p GenerationParameters) WasExplored() bool {
	return p.explored
}

// WithTemperature returns a copy of p with temperature replaced, re-validating
// the whole bundle. Used by the adaptation step to produce the
// next attempt's parameters without mutating the original, already-logged one.
func (p GenerationParameters) WithTemperature(temperature float64) (GenerationParameters, error) {
	next := p
	next.Temperature = temperature
	if err := next.validate(); err != nil {
		return GenerationParameters{}, err
	}
	return next, nil
}
