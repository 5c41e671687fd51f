// Copyright (C) 2026 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// OpenAI implements Provider for OpenAI-compatible chat completion models
// using OpenAI's official Go SDK v3.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a new OpenAI provider instance with the given configuration.
func NewOpenAI(cfg config.OpenAIClientConfig) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0), // transport retries are this package's executor's concern, not the SDK's
		),
	}
}

func (o *OpenAI) Name() string {
	return config.OPENAI
}

func (o *OpenAI) Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req Request) (response Response, err error) {
	request := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(run.Model),
		N:     param.NewOpt(int64(1)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		Temperature:      param.NewOpt(req.Params.Temperature),
		FrequencyPenalty: param.NewOpt(req.Params.FrequencyPenalty),
		PresencePenalty:  param.NewOpt(req.Params.PresencePenalty),
		MaxTokens:        param.NewOpt(int64(req.Params.MaxTokens)),
	}

	if run.ModelParams != nil {
		modelParams, ok := run.ModelParams.(config.OpenAIModelParams)
		if !ok {
			return response, fmt.Errorf("%w: %s", ErrInvalidModelParams, run.Name)
		}
		if modelParams.ReasoningEffort != nil {
			request.ReasoningEffort = shared.ReasoningEffort(*modelParams.ReasoningEffort)
		}
	}

	resp, err := timed(func() (*openai.ChatCompletion, error) {
		completion, err := o.client.Chat.Completions.New(ctx, request)
		if err != nil && o.isTransientResponse(err) {
			return completion, WrapErrRetryable(err)
		}
		return completion, err
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

func (o *OpenAI) isTransientResponse(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return slices.Contains([]int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
		}, apiErr.StatusCode)
	}
	return false
}

func (o *OpenAI) Close(ctx context.Context) error {
	return nil
}
