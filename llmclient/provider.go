// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package llmclient implements the generation core's LLM Client Abstraction
// a single operation that, given a fully-specified request, returns
// generated text or fails. Transport-level retries on transient provider
// errors are this package's concern; they never count against the
// quality-retry loop that sits above it.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/paramcalc"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

var (
	// ErrUnknownProviderName is returned when a provider name is not recognized.
	ErrUnknownProviderName = errors.New("unknown provider name")
	// ErrCreateClient is returned when provider client initialization fails.
	ErrCreateClient = errors.New("failed to create client")
	// ErrInvalidModelParams is returned when a run's model parameters do not
	// match the provider they are configured for.
	ErrInvalidModelParams = errors.New("invalid model parameters for run")
	// ErrGenerateResponse is returned when the underlying API call fails.
	ErrGenerateResponse = errors.New("failed to generate response")
	// ErrRetryable is returned when an operation can be retried at the transport layer.
	ErrRetryable = errors.New("retryable error")
)

// WrapErrRetryable wraps an error as retryable, preserving the original error chain.
func WrapErrRetryable(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// WrapErrGenerateResponse wraps an error as a generate-response error, preserving the original error chain.
func WrapErrGenerateResponse(err error) error {
	return fmt.Errorf("%w: %w", ErrGenerateResponse, err)
}

// Request is a single text-generation call: the assembled prompts and the
// complete, already-validated parameter bundle to apply. There is no partial
// application — every numeric knob the parameter calculator produced is
// passed through explicitly, never silently defaulted by the provider.
type Request struct {
	// SystemPrompt is the catalog system prompt, loaded verbatim by the prompt assembler.
	SystemPrompt string
	// UserPrompt is the assembled component template with placeholders resolved.
	UserPrompt string
	// Params is the complete generation parameter bundle for this attempt.
	Params paramcalc.GenerationParameters
}

// Usage carries provider-attributed token accounting for one generation call.
type Usage struct {
	InputTokens  *int64
	OutputTokens *int64
}

// Response is the result of a single successful generation call.
type Response struct {
	// Text is the raw generated text, unextracted and unvalidated.
	Text string
	// Usage carries token accounting when the provider reports it.
	Usage Usage
	// Duration is how long the underlying API call took.
	Duration time.Duration
}

// Provider interacts with a single LLM service.
type Provider interface {
	// Name returns the provider's unique identifier.
	Name() string
	// Generate executes a single text-generation request against the given run configuration.
	Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req Request) (Response, error)
	// Close releases resources held by the provider's underlying client.
	Close(ctx context.Context) error
}

func timed[T any](f func() (T, error), out *time.Duration) (response T, err error) {
	start := time.Now()
	response, err = f()
	*out = time.Since(start)
	return
}

func recordUsage[T constraints.Signed](inputTokens *T, outputTokens *T, out *Usage) {
	addIfNotNil(&out.InputTokens, inputTokens)
	addIfNotNil(&out.OutputTokens, outputTokens)
}

func addIfNotNil[D ~int64, S constraints.Signed](dst **D, src *S) {
	if src != nil {
		if *dst == nil {
			*dst = new(D)
		}
		**dst += D(*src)
	}
}
