// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbeamlabs/forgecore/config"
	"github.com/zbeamlabs/forgecore/llmclient"
	"github.com/zbeamlabs/forgecore/pkg/logging"
	"github.com/zbeamlabs/forgecore/pkg/testutils"
)

// fakeProvider is a controllable llmclient.Provider stand-in: it fails
// failuresBeforeSuccess times with a retryable error, then either succeeds or
// fails permanently depending on permanentErr.
type fakeProvider struct {
	name                 string
	failuresBeforeSuccess int
	permanentErr         error
	calls                atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, logger logging.Logger, run config.RunConfig, req llmclient.Request) (llmclient.Response, error) {
	n := f.calls.Add(1)
	if int(n) <= f.failuresBeforeSuccess {
		return llmclient.Response{}, llmclient.WrapErrRetryable(errors.New("transient failure"))
	}
	if f.permanentErr != nil {
		return llmclient.Response{}, f.permanentErr
	}
	return llmclient.Response{Text: "ok"}, nil
}

func (f *fakeProvider) Close(ctx context.Context) error { return nil }

func TestBackoffWithCallback(t *testing.T) {
	var callbackCalls []struct {
		attempt uint64
		delay   time.Duration
	}

	callback := func(nextRetryAttempt uint64, nextDelay time.Duration) {
		callbackCalls = append(callbackCalls, struct {
			attempt uint64
			delay   time.Duration
		}{nextRetryAttempt, nextDelay})
	}

	// Create a simple backoff that returns 3 delays then stops.
	baseBackoff := retry.BackoffFunc(func() (time.Duration, bool) {
		callCount := len(callbackCalls)
		if callCount >= 3 {
			return 0, true // stop after 3 calls
		}
		return time.Duration(callCount+1) * time.Millisecond, false
	})

	backoff := BackoffWithCallback(callback, baseBackoff)

	for i := 0; i < 5; i++ {
		delay, stop := backoff.Next()
		if stop {
			break
		}
		if i < 3 {
			expectedDelay := time.Duration(i+1) * time.Millisecond
			assert.Equal(t, expectedDelay, delay)
		}
	}

	assert.Len(t, callbackCalls, 3)
	for i, call := range callbackCalls {
		expectedAttempt := uint64(i + 1) //nolint:gosec
		expectedDelay := time.Duration(i+1) * time.Millisecond
		assert.Equal(t, expectedAttempt, call.attempt, "Call %d: expected attempt", i)
		assert.Equal(t, expectedDelay, call.delay, "Call %d: expected delay", i)
	}
}

func TestNewExecutor(t *testing.T) {
	provider := &fakeProvider{name: "test-provider"}

	tests := []struct {
		name        string
		runConfig   config.RunConfig
		wantLimiter bool
	}{
		{
			name:        "without rate limiting",
			runConfig:   config.RunConfig{Name: "test-run", Model: "test-model"},
			wantLimiter: false,
		},
		{
			name:        "with rate limiting",
			runConfig:   config.RunConfig{Name: "test-run", Model: "test-model", MaxRequestsPerMinute: 60},
			wantLimiter: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(provider, tt.runConfig)

			assert.Equal(t, provider, executor.Provider)
			assert.Equal(t, tt.runConfig, executor.RunConfig)

			if tt.wantLimiter {
				assert.NotNil(t, executor.limiter)
			} else {
				assert.Nil(t, executor.limiter)
			}
		})
	}
}

func TestExecutor_Execute_WithoutRetry(t *testing.T) {
	provider := &fakeProvider{name: "mock"}
	runConfig := config.RunConfig{Name: "mock", Model: "test-model"}
	executor := NewExecutor(provider, runConfig)
	logger := testutils.NewTestLogger(t)

	resp, err := executor.Execute(context.Background(), logger, llmclient.Request{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestExecutor_Execute_WithRetry_Success(t *testing.T) {
	provider := &fakeProvider{name: "mock", failuresBeforeSuccess: 1}
	runConfig := config.RunConfig{
		Name:  "mock",
		Model: "test-model",
		RetryPolicy: &config.RetryPolicy{
			MaxRetryAttempts:    2,
			InitialDelaySeconds: 0,
		},
	}

	executor := NewExecutor(provider, runConfig)
	logger := testutils.NewTestLogger(t)

	resp, err := executor.Execute(context.Background(), logger, llmclient.Request{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestExecutor_Execute_WithRetry_ExhaustsAttempts(t *testing.T) {
	provider := &fakeProvider{name: "mock", failuresBeforeSuccess: 5}
	runConfig := config.RunConfig{
		Name:  "mock",
		Model: "test-model",
		RetryPolicy: &config.RetryPolicy{
			MaxRetryAttempts:    1,
			InitialDelaySeconds: 0,
		},
	}

	executor := NewExecutor(provider, runConfig)
	logger := testutils.NewTestLogger(t)

	_, err := executor.Execute(context.Background(), logger, llmclient.Request{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient failure")
	assert.EqualValues(t, 2, provider.calls.Load()) // initial attempt + 1 retry
}

func TestExecutor_Execute_PermanentError(t *testing.T) {
	wantErr := errors.New("permanent failure")
	provider := &fakeProvider{name: "mock", permanentErr: wantErr}
	runConfig := config.RunConfig{
		Name:  "mock",
		Model: "test-model",
		RetryPolicy: &config.RetryPolicy{
			MaxRetryAttempts:    2,
			InitialDelaySeconds: 0,
		},
	}

	executor := NewExecutor(provider, runConfig)
	logger := testutils.NewTestLogger(t)

	_, err := executor.Execute(context.Background(), logger, llmclient.Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.EqualValues(t, 1, provider.calls.Load()) // never retried: not a retryable error
}

func TestExecutor_Execute_ContextCanceled(t *testing.T) {
	provider := &fakeProvider{name: "mock"}
	runConfig := config.RunConfig{Name: "mock", Model: "test-model"}
	executor := NewExecutor(provider, runConfig)
	logger := testutils.NewTestLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Execute(ctx, logger, llmclient.Request{})

	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}
