// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrashEvent_IsCrash(t *testing.T) {
	tests := []struct {
		name     string
		event    CrashEvent
		expected bool
	}{
		{
			name:     "clean exit",
			event:    CrashEvent{ExitCode: 0},
			expected: false,
		},
		{
			name:     "SIGTERM",
			event:    CrashEvent{Signal: syscall.SIGTERM},
			expected: false,
		},
		{
			name:     "SIGINT",
			event:    CrashEvent{Signal: syscall.SIGINT},
			expected: false,
		},
		{
			name:     "SIGKILL",
			event:    CrashEvent{Signal: syscall.SIGKILL},
			expected: true,
		},
		{
			name:     "SIGSEGV",
			event:    CrashEvent{Signal: syscall.SIGSEGV},
			expected: true,
		},
		{
			name:     "panic",
			event:    CrashEvent{WasPanic: true},
			expected: true,
		},
		{
			name:     "non-zero exit",
			event:    CrashEvent{ExitCode: 1},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.IsCrash())
		})
	}
}

func TestSupervisor_ShouldEnterSafeMode(t *testing.T) {
	dir := t.TempDir()
	sup := New(dir, Config{Threshold: 3, Window: time.Minute})

	assert.False(t, sup.ShouldEnterSafeMode(), "should be false with no crashes")

	_ = sup.RecordExit(0, syscall.SIGKILL, false)
	_ = sup.RecordExit(0, syscall.SIGSEGV, false)
	assert.False(t, sup.ShouldEnterSafeMode(), "should be false with 2 crashes")

	_ = sup.RecordExit(0, 0, false)
	assert.False(t, sup.ShouldEnterSafeMode(), "clean exit should not trigger safe mode")

	_ = sup.RecordExit(0, syscall.SIGKILL, false)
	assert.True(t, sup.ShouldEnterSafeMode(), "should be true at threshold")
}

func TestSupervisor_Reset(t *testing.T) {
	dir := t.TempDir()
	sup := New(dir, Config{Threshold: 3, Window: time.Minute})

	_ = sup.RecordExit(0, syscall.SIGKILL, false)
	_ = sup.RecordExit(0, syscall.SIGKILL, false)
	_ = sup.RecordExit(0, syscall.SIGKILL, false)

	require.True(t, sup.ShouldEnterSafeMode(), "should be in safe mode before reset")

	_ = sup.Reset()

	assert.False(t, sup.ShouldEnterSafeMode(), "should not be in safe mode after reset")
}

func TestSupervisor_StatePersistence(t *testing.T) {
	dir := t.TempDir()

	sup1 := New(dir, DefaultConfig())
	_ = sup1.RecordExit(0, syscall.SIGKILL, false)

	sup2 := New(dir, DefaultConfig())
	assert.Len(t, sup2.state.Events, 1, "expected 1 event after reload")
}

func TestSupervisor_PruneOldEvents(t *testing.T) {
	dir := t.TempDir()
	window := 100 * time.Millisecond
	sup := New(dir, Config{Threshold: 3, Window: window})

	_ = sup.RecordExit(0, syscall.SIGKILL, false)

	time.Sleep(150 * time.Millisecond)

	_ = sup.RecordExit(0, 0, false)

	crashCount := 0
	for _, e := range sup.state.Events {
		if e.IsCrash() {
			crashCount++
		}
	}
	assert.Equal(t, 0, crashCount, "expected 0 crashes after prune")
}

func TestShouldSkipDetection_TestMode(t *testing.T) {
	os.Setenv("DEVICEWALL_TEST_MODE", "1")
	defer os.Unsetenv("DEVICEWALL_TEST_MODE")

	assert.True(t, ShouldSkipDetection(), "should skip detection in test mode")
}
