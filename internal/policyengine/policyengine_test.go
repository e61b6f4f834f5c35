// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policyengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/schedule"
)

func mustAddr(t *testing.T, s string) ipaddr.Addr {
	t.Helper()
	a, err := ipaddr.ParseAddr(s, 4)
	require.NoError(t, err)
	return a
}

func alwaysOpen() schedule.Period {
	return schedule.Period{Start: "* * * *", Duration: "0 0 1 0"}
}

func TestEvaluateAdvancesOnMatch(t *testing.T) {
	d := NewDescriptor(3, alwaysOpen(), -1)
	table := TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f PacketFacts) bool { return f.DNSQName == "device.example" }},
	}
	w := &Worker{Descriptor: d, Table: table}

	facts := PacketFacts{DNSQName: "device.example"}
	v := w.Evaluate(facts, time.Now())
	require.Equal(t, VerdictAccept, v)
	assert.Equal(t, 1, d.CurrentState)
}

func TestEvaluateDropsOnNoMatch(t *testing.T) {
	d := NewDescriptor(3, alwaysOpen(), -1)
	table := TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f PacketFacts) bool { return false }},
	}
	w := &Worker{Descriptor: d, Table: table}

	v := w.Evaluate(PacketFacts{}, time.Now())
	assert.Equal(t, VerdictDrop, v)
	assert.Equal(t, 0, d.CurrentState, "state must stay unchanged")
}

func TestEvaluateOutsideActivityPeriodDrops(t *testing.T) {
	closedWindow := schedule.Period{Start: "0 0 1 *", Duration: "0 0 0 0"}
	d := NewDescriptor(2, closedWindow, -1)
	table := TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f PacketFacts) bool { return true }},
	}
	w := &Worker{Descriptor: d, Table: table}

	v := w.Evaluate(PacketFacts{}, time.Now())
	assert.Equal(t, VerdictDrop, v, "verdict outside the activity period")
	assert.Equal(t, 0, d.CurrentState)
}

func TestEvaluateResponseRequiresCachedIPMatch(t *testing.T) {
	d := NewDescriptor(2, alwaysOpen(), -1)
	good := mustAddr(t, "10.0.0.5")
	d.CachedIP = good
	d.HasCachedIP = true

	table := TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f PacketFacts) bool { return true }},
	}
	w := &Worker{Descriptor: d, Table: table}

	bad := mustAddr(t, "10.0.0.9")
	v := w.Evaluate(PacketFacts{IsResponse: true, SrcIP: bad}, time.Now())
	assert.Equal(t, VerdictDrop, v, "cached-IP mismatch")
	assert.Equal(t, 0, d.CurrentState, "state must not advance on a cached-IP mismatch")

	v = w.Evaluate(PacketFacts{IsResponse: true, SrcIP: good}, time.Now())
	assert.Equal(t, VerdictAccept, v, "source IP matches CachedIP")
	assert.Equal(t, 1, d.CurrentState)
}

func TestEvaluateArmsRequestAndDNSLookup(t *testing.T) {
	d := NewDescriptor(2, alwaysOpen(), -1)
	table := TransitionTable{
		{FromState: 0, ToState: 1, ArmsRequest: true, Predicate: func(f PacketFacts) bool { return f.IsNameRequest }},
	}
	resolved := mustAddr(t, "93.184.216.34")
	w := &Worker{
		Descriptor: d,
		Table:      table,
		DNSLookup: func(name string) (ipaddr.Addr, bool) {
			if name == "device.example" {
				return resolved, true
			}
			return ipaddr.Addr{}, false
		},
	}

	w.Evaluate(PacketFacts{IsNameRequest: true, RequestName: "device.example"}, time.Now())

	require.True(t, d.HasCachedIP, "expected CachedIP to be armed from the DNS lookup")
	assert.True(t, d.CachedIP.Equal(resolved))
	assert.False(t, d.TimeRequest.IsZero(), "expected TimeRequest to be set")
}

func TestEvaluateInLoopResetsToLoopTarget(t *testing.T) {
	d := NewDescriptor(4, alwaysOpen(), -1)
	d.InLoop = true
	d.LoopTarget = 1
	d.CurrentState = 3

	table := TransitionTable{
		{FromState: 3, ToState: 1, Predicate: func(f PacketFacts) bool { return true }},
	}
	w := &Worker{Descriptor: d, Table: table}

	w.Evaluate(PacketFacts{}, time.Now())
	assert.Equal(t, 1, d.CurrentState, "want loop target")
}

func TestEvaluateFreshnessTimeoutBlocksTransition(t *testing.T) {
	d := NewDescriptor(2, alwaysOpen(), 10)
	d.TimeRequest = time.Now().Add(-1 * time.Hour)

	table := TransitionTable{
		{FromState: 0, ToState: 1, Predicate: func(f PacketFacts) bool { return true }},
	}
	w := &Worker{Descriptor: d, Table: table}

	v := w.Evaluate(PacketFacts{}, time.Now())
	assert.Equal(t, VerdictDrop, v, "freshness threshold elapsed")
}

// TestEvaluateCounterReadFailureDropsAndLeavesStateUnchanged exercises
// §4.7's counter-read-failure rule: ReadBaseline shells out to `nft`,
// which this test environment doesn't have, so a transition armed with
// a counter always hits the failure path here. Evaluate must drop the
// packet and leave CurrentState untouched rather than committing the
// transition with a missing baseline.
func TestEvaluateCounterReadFailureDropsAndLeavesStateUnchanged(t *testing.T) {
	d := NewDescriptor(2, alwaysOpen(), -1)
	table := TransitionTable{
		{
			FromState:   0,
			ToState:     1,
			Predicate:   func(f PacketFacts) bool { return true },
			ArmsCounter: &CounterSpec{Table: "inet devicewall", Counter: "no_such_counter"},
		},
	}
	w := &Worker{Descriptor: d, Table: table}

	v := w.Evaluate(PacketFacts{}, time.Now())
	assert.Equal(t, VerdictDrop, v, "a failed counter baseline read must drop the packet")
	assert.Equal(t, 0, d.CurrentState, "state must stay unchanged on a counter read failure")

	_, ok := d.CounterBaseline(1)
	assert.False(t, ok, "no baseline should have been recorded for the unreached state")
}
