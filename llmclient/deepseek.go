// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"context"
	"fmt"

	deepseek "github.com/cohesion-org/deepseek-go"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// Deepseek implements Provider for DeepSeek generative models.
type Deepseek struct {
	client *deepseek.Client
}

// NewDeepseek creates a new DeepSeek provider instance with the given configuration.
func NewDeepseek(cfg config.DeepseekClientConfig) (*Deepseek, error) {
	opts := make([]deepseek.Option, 0)
	if cfg.RequestTimeout != nil {
		opts = append(opts, deepseek.WithTimeout(*cfg.RequestTimeout))
	}
	client, err := deepseek.NewClientWithOptions(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return &Deepseek{client: client}, nil
}

func (d *Deepseek) Name() string {
	return config.DEEPSEEK
}

func (d *Deepseek) Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req Request) (response Response, err error) {
	request := &deepseek.ChatCompletionRequest{
		Model: run.Model,
		Messages: []deepseek.ChatCompletionMessage{
			{Role: deepseek.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: deepseek.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature:      float32(req.Params.Temperature),
		FrequencyPenalty: float32(req.Params.FrequencyPenalty),
		PresencePenalty:  float32(req.Params.PresencePenalty),
		MaxTokens:        req.Params.MaxTokens,
	}

	if run.ModelParams != nil {
		if _, ok := run.ModelParams.(config.DeepseekModelParams); !ok {
			return response, fmt.Errorf("%w: %s", ErrInvalidModelParams, run.Name)
		}
	}

	resp, err := timed(func() (*deepseek.ChatCompletionResponse, error) {
		return d.client.CreateChatCompletion(ctx, request)
	}, &response.Duration)
	if err != nil {
		return response, WrapErrGenerateResponse(err)
	}

	recordUsage(&resp.Usage.PromptTokens, &resp.Usage.CompletionTokens, &response.Usage)

	if len(resp.Choices) == 0 {
		return response, fmt.Errorf("%w: no choices in response", ErrGenerateResponse)
	}
	response.Text = resp.Choices[0].Message.Content
	logger.Message(ctx, logging.LevelDebug, "generated %d characters in %v", len(response.Text), response.Duration)
	return response, nil
}

func (d *Deepseek) Close(ctx context.Context) error {
	return nil
}
