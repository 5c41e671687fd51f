// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package paramcalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validVoice() VoiceVector {
	return VoiceVector{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
}

func validEnrichment() Enrichment {
	return Enrichment{DetailDensity: 2, DigressionRate: 2, ExampleDensity: 2, FactFormat: FactFormatNarrative}
}

func validValidation() Validation {
	return Validation{HumanLikenessThreshold: 0.8, RealismMinimum: 7, ReadabilityMin: 0, ReadabilityMax: 1}
}

func validRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, PerAttemptTempDelta: 0.1}
}

func TestNew_ValidBundle(t *testing.T) {
	p, err := New(0.7, 800, 0.5, 0.5, validVoice(), validEnrichment(), validValidation(), validRetry(), false)
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.Temperature)
	assert.False(t, p.WasExplored())
}

func TestNew_RejectsOutOfRangeTemperature(t *testing.T) {
	_, err := New(1.5, 800, 0.5, 0.5, validVoice(), validEnrichment(), validValidation(), validRetry(), false)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNew_RejectsOutOfRangeVoiceComponent(t *testing.T) {
	voice := validVoice()
	voice.EmotionalTone = 2.0
	_, err := New(0.7, 800, 0.5, 0.5, voice, validEnrichment(), validValidation(), validRetry(), false)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNew_RejectsOutOfRangeEnrichmentKnob(t *testing.T) {
	enrichment := validEnrichment()
	enrichment.DetailDensity = 5
	_, err := New(0.7, 800, 0.5, 0.5, validVoice(), enrichment, validValidation(), validRetry(), false)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNew_RejectsUnrecognizedFactFormat(t *testing.T) {
	enrichment := validEnrichment()
	enrichment.FactFormat = "bogus"
	_, err := New(0.7, 800, 0.5, 0.5, validVoice(), enrichment, validValidation(), validRetry(), false)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestWithTemperature_RevalidatesBundle(t *testing.T) {
	p, err := New(0.7, 800, 0.5, 0.5, validVoice(), validEnrichment(), validValidation(), validRetry(), false)
	require.NoError(t, err)

	adjusted, err := p.WithTemperature(0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.9, adjusted.Temperature)
	assert.Equal(t, 0.7, p.Temperature, "original bundle must remain unchanged")

	_, err = p.WithTemperature(5.0)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, FailureUniformLow, ClassifyFailure(0.30, -0.40, false))
	assert.Equal(t, FailureBorderline, ClassifyFailure(0.68, -0.02, false))
	assert.Equal(t, FailurePartial, ClassifyFailure(0.90, -0.40, true))
	assert.Equal(t, FailureOther, ClassifyFailure(0.90, 0.10, false))
}
