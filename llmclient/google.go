// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// GoogleAI implements Provider for Google AI generative models.
type GoogleAI struct {
	client *genai.Client
}

// NewGoogleAI creates a new GoogleAI provider instance with the given configuration.
func NewGoogleAI(ctx context.Context, cfg config.GoogleAIClientConfig) (*GoogleAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &GoogleAI{client: client}, nil
}

func (g *GoogleAI) Name() string {
	return config.GOOGLE
}

func (g *GoogleAI) Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req Request) (response Response, err error) {
	temperature := float32(req.Params.Temperature)
	presencePenalty := float32(req.Params.PresencePenalty)
	frequencyPenalty := float32(req.Params.FrequencyPenalty)

	generateConfig := &genai.GenerateContentConfig{
		CandidateCount:    1,
		MaxOutputTokens:   int32(req.Params.MaxTokens),
		Temperature:       &temperature,
		PresencePenalty:   &presencePenalty,
		FrequencyPenalty:  &frequencyPenalty,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)}},
	}

	if run.ModelParams != nil {
		modelParams, ok := run.ModelParams.(config.GoogleAIModelParams)
		if !ok {
			return response, fmt.Errorf("%w: %s", ErrInvalidModelParams, run.Name)
		}
		if modelParams.ThinkingLevel != nil {
			var thinkingLevel genai.ThinkingLevel
			switch *modelParams.ThinkingLevel {
			case "low":
				thinkingLevel = genai.ThinkingLevelLow
			case "high":
				thinkingLevel = genai.ThinkingLevelHigh
			}
			generateConfig.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: thinkingLevel}
		}
	}

	contents := []*genai.Content{{Parts: []*genai.Part{genai.NewPartFromText(req.UserPrompt)}}}

	resp, err := timed(func() (*genai.GenerateContentResponse, error) {
		return g.client.Models.GenerateContent(ctx, run.Model, contents, generateConfig)
	}, &response.Duration)
	if err != nil {
		return response, WrapErrGenerateResponse(err)
	}

	if resp.UsageMetadata != nil {
		recordUsage(&resp.UsageMetadata.PromptTokenCount, &resp.UsageMetadata.CandidatesTokenCount, &response.Usage)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				response.Text = part.Text
				break
			}
		}
	}
	logger.Message(ctx, logging.LevelDebug, "generated %d characters in %v", len(response.Text), response.Duration)
	return response, nil
}

func (g *GoogleAI) Close(ctx context.Context) error {
	return nil
}
