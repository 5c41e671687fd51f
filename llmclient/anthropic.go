// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// Anthropic implements Provider for Anthropic generative models.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates a new Anthropic provider instance with the given configuration.
func NewAnthropic(cfg config.AnthropicClientConfig) *Anthropic {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if cfg.RequestTimeout != nil {
		opts = append(opts, anthropicoption.WithRequestTimeout(*cfg.RequestTimeout))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Name() string {
	return config.ANTHROPIC
}

func (a *Anthropic) Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req Request) (response Response, err error) {
	request := anthropic.MessageNewParams{
		Model:       anthropic.Model(run.Model),
		MaxTokens:   int64(req.Params.MaxTokens),
		Temperature: anthropic.Float(req.Params.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}

	if run.ModelParams != nil {
		modelParams, ok := run.ModelParams.(config.AnthropicModelParams)
		if !ok {
			return response, fmt.Errorf("%w: %s", ErrInvalidModelParams, run.Name)
		}
		if modelParams.ThinkingBudgetTokens != nil {
			request.Thinking = anthropic.ThinkingConfigParamOfEnabled(*modelParams.ThinkingBudgetTokens)
		}
	}

	resp, err := timed(func() (*anthropic.Message, error) {
		return a.client.Messages.New(ctx, request)
	}, &response.Duration)
	if err != nil {
		return response, WrapErrGenerateResponse(err)
	}

	recordUsage(&resp.Usage.InputTokens, &resp.Usage.OutputTokens, &response.Usage)

	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			response.Text = text.Text
			break
		}
	}
	logger.Message(ctx, logging.LevelDebug, "generated %d characters in %v", len(response.Text), response.Duration)
	return response, nil
}

func (a *Anthropic) Close(ctx context.Context) error {
	return nil
}
