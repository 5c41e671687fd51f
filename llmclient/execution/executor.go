// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package execution provides unified provider execution patterns for the
// generation core. It handles transport-level concerns - retry on transient
// errors, and per-run rate limiting - shared across every provider, fully
// decoupled from the quality-retry loop sitting above it.
package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/llmclient"
	"github.com/zbeamlabs/forgecore/pkg/logging"
)

// BackoffWithCallback wraps a retry.Backoff with a callback function that is called
// before each retry attempt. The callback receives the next retry attempt number
// and the delay duration.
func BackoffWithCallback(onBackoff func(nextRetryAttempt uint64, nextDelay time.Duration), next retry.Backoff) retry.Backoff {
	var retryCounter uint64 = 0
	return retry.BackoffFunc(func() (nextDelay time.Duration, stop bool) {
		nextDelay, stop = next.Next()
		if stop {
			return
		}

		nextRetry := atomic.AddUint64(&retryCounter, 1)
		onBackoff(nextRetry, nextDelay)

		return
	})
}

// Executor provides a unified way to execute a generation request against a
// provider with transport retry logic and rate limiting.
type Executor struct {
	Provider  llmclient.Provider
	RunConfig config.RunConfig
	limiter   *rate.Limiter
}

// NewExecutor creates a new provider executor with the given provider and run configuration.
func NewExecutor(provider llmclient.Provider, runConfig config.RunConfig) *Executor {
	var limiter *rate.Limiter
	if runConfig.MaxRequestsPerMinute > 0 {
		ratePerSecond := rate.Limit(runConfig.MaxRequestsPerMinute) / 60
		limiter = rate.NewLimiter(ratePerSecond, runConfig.MaxRequestsPerMinute) // allow a burst up to the per-minute limit
	}

	return &Executor{
		Provider:  provider,
		RunConfig: runConfig,
		limiter:   limiter,
	}
}

// Execute generates a response for req using the configured provider, applying
// transport retry logic and rate limiting as configured.
func (e *Executor) Execute(ctx context.Context, logger logging.Logger, req llmclient.Request) (llmclient.Response, error) {
	if e.RunConfig.RetryPolicy != nil && e.RunConfig.RetryPolicy.MaxRetryAttempts > 0 {
		return e.executeWithRetry(ctx, logger, req)
	}
	return e.executeOnce(ctx, logger, req)
}

func (e *Executor) executeWithRetry(ctx context.Context, logger logging.Logger, req llmclient.Request) (llmclient.Response, error) {
	backoff := retry.NewExponential(time.Duration(e.RunConfig.RetryPolicy.InitialDelaySeconds) * time.Second)
	backoff = retry.WithMaxRetries(uint64(e.RunConfig.RetryPolicy.MaxRetryAttempts), backoff)
	backoff = BackoffWithCallback(func(nextRetryAttempt uint64, nextDelay time.Duration) {
		logger.Message(ctx, logging.LevelInfo, "retrying request %d/%d in %v",
			nextRetryAttempt, e.RunConfig.RetryPolicy.MaxRetryAttempts, nextDelay)
	}, backoff)

	return retry.DoValue(ctx, backoff, func(ctx context.Context) (llmclient.Response, error) {
		return e.executeOnce(ctx, logger, req)
	})
}

func (e *Executor) executeOnce(ctx context.Context, logger logging.Logger, req llmclient.Request) (response llmclient.Response, err error) {
	if err = ctx.Err(); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "aborting request")
		return
	}

	if e.limiter != nil {
		if err = e.limiter.Wait(ctx); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "aborting request")
			return
		}
	}

	response, err = e.Provider.Generate(ctx, logger, e.RunConfig, req)
	if errors.Is(err, llmclient.ErrRetryable) {
		logger.Error(ctx, logging.LevelWarn, err, "request encountered a transient error")
		err = retry.RetryableError(err)
	}
	return
}
