// Copyright (C) 2026 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/paramcalc"
	"github.com/zbeamlabs/forgecore/pkg/testutils"
)

func TestOpenAI_Name(t *testing.T) {
	p := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key"})
	assert.Equal(t, config.OPENAI, p.Name())
}

func TestOpenAI_Generate_RejectsMismatchedModelParams(t *testing.T) {
	p := NewOpenAI(config.OpenAIClientConfig{APIKey: "test-key"})
	run := config.RunConfig{Name: "default", Model: "gpt-test", ModelParams: config.AnthropicModelParams{}}

	_, err := p.Generate(context.Background(), testutils.NewTestLogger(t), run, Request{
		SystemPrompt: "sys", UserPrompt: "usr", Params: validParams(t),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidModelParams)
}

func validParams(t *testing.T) paramcalc.GenerationParameters {
	t.Helper()
	p, err := paramcalc.New(0.7, 600, 0.3, 0.3,
		paramcalc.VoiceVector{
			TraitFrequency: 0.5, OpinionRate: 0.5, ReaderAddressRate: 0.5, ColloquialismFrequency: 0.5,
			StructuralPredictability: 0.5, EmotionalTone: 0.5, ImperfectionTolerance: 0.5, SentenceRhythmVariation: 0.5,
		},
		paramcalc.Enrichment{DetailDensity: 2, DigressionRate: 2, ExampleDensity: 2, FactFormat: paramcalc.FactFormatNarrative},
		paramcalc.Validation{HumanLikenessThreshold: 0.8, RealismMinimum: 7, ReadabilityMin: 0, ReadabilityMax: 1},
		paramcalc.RetryPolicy{MaxAttempts: 5, PerAttemptTempDelta: 0.1},
		false,
	)
	require.NoError(t, err)
	return p
}
