// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package queueworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStartsNotRunning(t *testing.T) {
	w := New(7, nil)
	assert.False(t, w.IsRunning(), "a freshly constructed worker must not report running")
	stats := w.Stats()
	assert.Equal(t, uint64(0), stats.PacketsProcessed)
}

func TestStopOnNeverStartedWorkerIsSafe(t *testing.T) {
	w := New(7, nil)
	assert.NotPanics(t, w.Stop)
}

func TestDefaultLearningVerdictFuncLearningModeAlwaysAccepts(t *testing.T) {
	called := false
	fn := DefaultLearningVerdictFunc(
		func() bool { return true },
		func(entry Entry) (bool, error) {
			called = true
			return false, nil // even a "deny" answer is ignored while learning
		},
	)
	v := fn(Entry{})
	assert.True(t, called, "expected the processor to be invoked while learning")
	assert.Equal(t, VerdictAccept, v.Type, "expected VerdictAccept while learning")
}

func TestDefaultLearningVerdictFuncEnforcesProcessorResult(t *testing.T) {
	fn := DefaultLearningVerdictFunc(
		func() bool { return false },
		func(entry Entry) (bool, error) { return false, nil },
	)
	v := fn(Entry{})
	assert.Equal(t, VerdictDrop, v.Type, "expected VerdictDrop when the processor denies")
}

func TestDefaultLearningVerdictFuncFailsOpenOnError(t *testing.T) {
	fn := DefaultLearningVerdictFunc(
		func() bool { return false },
		func(entry Entry) (bool, error) {
			return false, errTest
		},
	)
	v := fn(Entry{})
	assert.Equal(t, VerdictAccept, v.Type, "expected VerdictAccept on a processor error (fail open)")
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
