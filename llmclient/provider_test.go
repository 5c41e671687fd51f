// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package llmclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrRetryable(t *testing.T) {
	cause := errors.New("rate limited")
	err := WrapErrRetryable(cause)
	assert.ErrorIs(t, err, ErrRetryable)
	assert.ErrorIs(t, err, cause)
}

func TestWrapErrGenerateResponse(t *testing.T) {
	cause := errors.New("boom")
	err := WrapErrGenerateResponse(cause)
	assert.ErrorIs(t, err, ErrGenerateResponse)
	assert.ErrorIs(t, err, cause)
}

func TestTimed_RecordsDuration(t *testing.T) {
	var duration time.Duration
	result, err := timed(func() (string, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	}, &duration)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Greater(t, duration, time.Duration(0))
}

func TestRecordUsage_AccumulatesAcrossCalls(t *testing.T) {
	var usage Usage
	in1, out1 := int64(10), int64(20)
	in2, out2 := int64(5), int64(7)
	recordUsage(&in1, &out1, &usage)
	recordUsage(&in2, &out2, &usage)
	require.NotNil(t, usage.InputTokens)
	require.NotNil(t, usage.OutputTokens)
	assert.Equal(t, int64(15), *usage.InputTokens)
	assert.Equal(t, int64(27), *usage.OutputTokens)
}

func TestRecordUsage_NilSourceLeavesNilDestination(t *testing.T) {
	var usage Usage
	recordUsage[int64](nil, nil, &usage)
	assert.Nil(t, usage.InputTokens)
	assert.Nil(t, usage.OutputTokens)
}
