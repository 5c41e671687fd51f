// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package testutils provides utilities for capturing output and making assertions in tests.
package testutils

import (
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	stdoutLock sync.Mutex
	osArgsLock sync.Mutex
)

// CaptureStdout captures standard output during the execution of the provided function
// and returns it as a string. This function is synchronized to prevent concurrent stdout capture.
func CaptureStdout(t *testing.T, fn func()) (stdout string) {
	SyncCall(&stdoutLock, func() {
		// Create a temporary file to capture os.Stdout.
		fp, err := os.CreateTemp("", "*.stdout")
		if err != nil {
			t.Fatalf("failed to create stdout capture file: %v\n", err)
		}
		defer fp.Close()

		// Save the original os.Stdout.
		originalStdout := os.Stdout
		defer func() { os.Stdout = originalStdout }()

		os.Stdout = fp

		// Call the tested function.
		fn()

		// Read the output.
		if err := fp.Sync(); err != nil {
			t.Fatalf("failed to sync stdout capture file: %v\n", err)
		}
		if _, err := fp.Seek(0, io.SeekStart); err != nil {
			t.Fatalf("failed to set read offset in stdout capture file: %v\n", err)
		}
		contents, err := io.ReadAll(fp)
		if err != nil {
			t.Fatalf("failed to read stdout capture file: %v\n", err)
		}

		stdout = string(contents)
	})
	return
}

// WithArgs temporarily replaces os.Args with the provided arguments while executing
// the given function. This function is synchronized to prevent concurrent modifications.
func WithArgs(_ *testing.T, fn func(), args ...string) {
	SyncCall(&osArgsLock, func() {
		// Save the original os.Args
		originalArgs := os.Args
		defer func() { os.Args = originalArgs }()

		os.Args = append([]string{os.Args[0]}, args...)

		// Call the tested function.
		fn()
	})
}

// SyncCall executes the provided function while holding the specified mutex lock.
func SyncCall(lock *sync.Mutex, fn func()) {
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// AssertContainsAll verifies that the given contents string contains all specified elements.
func AssertContainsAll(t *testing.T, contents string, elements []string) {
	for i := range elements {
		assert.Contains(t, string(contents), elements[i])
	}
}

// Ptr returns a pointer to the given value.
func Ptr[T any](value T) *T {
	return &value
}
