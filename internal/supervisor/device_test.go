// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/devicewall/internal/config"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/policyengine"
	"grimm.is/devicewall/internal/queueworker"
	"grimm.is/devicewall/internal/schedule"
)

func testProfile() *config.DeviceProfile {
	return &config.DeviceProfile{
		Name:        "test-device",
		BaseQueueID: 10,
		NumStates:   2,
		ActivityPeriod: config.ActivityPeriod{
			Start:    "* * * *",
			Duration: "* * * *",
		},
		Policies: []config.PolicySpec{{Name: "p0"}},
	}
}

func TestLookupDNSMissReturnsFalse(t *testing.T) {
	d := NewDevice(testProfile(), nil, nil)
	_, ok := d.lookupDNS("nowhere.example")
	assert.False(t, ok, "expected a miss for an unknown name")
}

func TestLookupDNSReturnsMostRecentAddress(t *testing.T) {
	d := NewDevice(testProfile(), nil, nil)
	a1, _ := ipaddr.ParseAddr("1.1.1.1", 4)
	a2, _ := ipaddr.ParseAddr("2.2.2.2", 4)
	d.dnsCache.Add("device.example", []ipaddr.Addr{a1})
	d.dnsCache.Add("device.example", []ipaddr.Addr{a2})

	got, ok := d.lookupDNS("device.example")
	require.True(t, ok, "expected a hit")
	assert.True(t, got.Equal(a2), "lookupDNS must return the most recently added address")
}

func TestVerdictFuncForDropsUnmatchedPacket(t *testing.T) {
	d := NewDevice(testProfile(), nil, nil)
	descriptor := policyengine.NewDescriptor(2, schedule.Period{Start: "* * * *", Duration: "0 0 1 0"}, -1)
	table := policyengine.TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f policyengine.PacketFacts) bool { return f.HTTPURI == "/allow" }},
	}
	pw := &policyengine.Worker{Descriptor: descriptor, Table: table}
	vf := d.verdictFuncFor(pw, "p0")

	// A malformed/empty payload dissects to bare facts that won't match
	// the transition's predicate, so the verdict must be drop.
	v := vf(queueworker.Entry{Payload: nil})
	assert.Equal(t, queueworker.VerdictDrop, v.Type, "unmatched packet must drop")
}

// TestRecoverPanicConvertsPanicToError exercises runWorkerOnce's panic
// safety net directly: a panicking worker function must come back as
// an error with wasPanic=true, the signal the crash supervisor uses to
// classify the exit as an actual crash (CrashEvent.IsCrash).
func TestRecoverPanicConvertsPanicToError(t *testing.T) {
	var err error
	var wasPanic bool
	assert.NotPanics(t, func() {
		err, wasPanic = recoverPanic(func() error {
			panic("simulated worker panic")
		})
	})
	require.Error(t, err)
	assert.True(t, wasPanic)
}

func TestRecoverPanicPassesThroughOrdinaryError(t *testing.T) {
	want := errors.New("queue bind failed")
	err, wasPanic := recoverPanic(func() error { return want })
	assert.Equal(t, want, err)
	assert.False(t, wasPanic)
}

func TestRecoverPanicPassesThroughCleanExit(t *testing.T) {
	err, wasPanic := recoverPanic(func() error { return nil })
	assert.NoError(t, err)
	assert.False(t, wasPanic)
}
