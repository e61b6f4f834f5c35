// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policyengine holds the per-device interaction state machine:
// the shared descriptor sibling workers advance under one mutex, and
// the transition table that decides, for a given state and packet,
// whether to advance it.
//
// The engine never interprets what a predicate checks. A device
// profile loader builds TransitionTable entries from policy-binding
// declarations (DNS qname, HTTP URI prefix, IGMP group membership, and
// so on) and hands the engine opaque closures; this keeps the state
// machine itself free of any protocol-specific knowledge.
package policyengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/devicewall/internal/errors"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/rulebridge"
	"grimm.is/devicewall/internal/schedule"
)

// Verdict is the disposition the engine assigns one packet.
type Verdict int

const (
	VerdictDrop Verdict = iota
	VerdictAccept
)

// PacketFacts is the protocol-agnostic view of one packet a Predicate
// evaluates against. Only the fields relevant to the packet's protocol
// are populated; the rest are left at their zero value.
type PacketFacts struct {
	SrcIP, DstIP ipaddr.Addr
	DstPort      uint16

	// IsNameRequest marks a DNS query or discovery request (mDNS/SSDP
	// M-SEARCH) whose matching response should arm CachedIP.
	IsNameRequest bool
	// IsResponse marks a peer-to-device packet that must be checked
	// against the descriptor's CachedIP before the transition fires.
	IsResponse bool
	// RequestName is the DNS cache key a name-bound request resolves
	// against, when IsNameRequest is set.
	RequestName string

	DNSQName   string
	HTTPURI    string
	CoAPURI    string
	SSDPMethod string
	IGMPGroup  ipaddr.Addr
}

// CounterSpec names the nftables table/counter a state's packet count
// baseline is read from.
type CounterSpec struct {
	Table   string
	Counter string
}

// Predicate is a policy-specific field test, opaque to the engine.
type Predicate func(PacketFacts) bool

// Transition is one edge of a policy's state machine.
type Transition struct {
	FromState    int
	Predicate    Predicate
	ToState      int
	ArmsRequest  bool
	ArmsCounter  *CounterSpec
	ArmsDuration bool
}

// TransitionTable is the ordered set of transitions a policy's state
// machine is built from; order matters only in that the first matching
// transition out of the current state wins.
type TransitionTable []Transition

// transitionsFrom returns, in table order, the transitions whose
// FromState equals state.
func (t TransitionTable) transitionsFrom(state int) []Transition {
	var out []Transition
	for _, tr := range t {
		if tr.FromState == state {
			out = append(out, tr)
		}
	}
	return out
}

// CounterBaseline is the packet/byte count recorded when a state is
// armed, so elapsed traffic since arming can be derived by a later read.
type CounterBaseline struct {
	Packets, Bytes int64
}

// Descriptor is the interaction state shared by every worker of one
// policy group: current state, the cached peer IP a name-bound request
// armed, per-state counter/duration baselines, and the activity window
// and freshness threshold that gate transitions. All fields are
// accessed only through WithLock.
type Descriptor struct {
	mu sync.Mutex

	// ID tags this descriptor for log correlation across the sibling
	// workers of one policy group.
	ID uuid.UUID

	NumStates    int
	CurrentState int

	CachedIP    ipaddr.Addr
	HasCachedIP bool
	TimeRequest time.Time

	FreshnessThreshold float64
	ActivityPeriod     schedule.Period

	InLoop     bool
	LoopTarget int

	counterBaselines  map[int]CounterBaseline
	durationBaselines map[int]uint64
}

// NewDescriptor builds a Descriptor starting at state 0.
func NewDescriptor(numStates int, period schedule.Period, freshnessThreshold float64) *Descriptor {
	return &Descriptor{
		ID:                 uuid.New(),
		NumStates:          numStates,
		CurrentState:       0,
		ActivityPeriod:     period,
		FreshnessThreshold: freshnessThreshold,
		counterBaselines:   make(map[int]CounterBaseline),
		durationBaselines:  make(map[int]uint64),
	}
}

// WithLock runs fn with the descriptor's mutex held, the only sanctioned
// way to read or mutate its fields from a worker.
func (d *Descriptor) WithLock(fn func(*Descriptor)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

// Worker evaluates packets for one policy within a device's policy
// group against a shared Descriptor.
type Worker struct {
	Descriptor *Descriptor
	Table      TransitionTable
	DNSLookup  func(name string) (ipaddr.Addr, bool)
}

// ReadBaseline reads a counter's current packet/byte count via the
// kernel-filter bridge, the value a newly armed state's baseline is
// set from.
func ReadBaseline(table, counter string) (CounterBaseline, error) {
	ctx := context.Background()
	packets, err := rulebridge.ReadPackets(ctx, table, counter)
	if err != nil {
		return CounterBaseline{}, errors.Wrap(err, errors.KindBridge, "reading counter baseline (packets)")
	}
	bytes, err := rulebridge.ReadBytes(ctx, table, counter)
	if err != nil {
		return CounterBaseline{}, errors.Wrap(err, errors.KindBridge, "reading counter baseline (bytes)")
	}
	return CounterBaseline{Packets: packets, Bytes: bytes}, nil
}

// Evaluate decides the verdict for one packet, and whether the
// descriptor's CurrentState should advance, per §4.7: a transition
// fires only when the activity period currently holds, the descriptor
// is not timed out, and the transition's predicate matches; a response
// transition additionally requires the packet's source IP to match the
// cached peer IP.
func (w *Worker) Evaluate(facts PacketFacts, now time.Time) Verdict {
	verdict := VerdictDrop

	w.Descriptor.WithLock(func(d *Descriptor) {
		if !schedule.IsInActivityPeriod(d.ActivityPeriod, now) {
			return
		}
		if schedule.IsTimedOut(d.FreshnessThreshold, d.TimeRequest) {
			return
		}

		for _, tr := range w.Table.transitionsFrom(d.CurrentState) {
			if tr.Predicate == nil || !tr.Predicate(facts) {
				continue
			}

			if facts.IsResponse {
				if !d.HasCachedIP || !facts.SrcIP.Equal(d.CachedIP) {
					// Cached-peer mismatch: drop, no state change, keep
					// looking at no further transitions (only one can
					// match a given state in practice).
					return
				}
			}

			if !w.advance(d, tr, facts, now) {
				// Counter read failure: drop this packet and leave the
				// descriptor's state unchanged. The next matching packet
				// retries the transition from scratch.
				return
			}
			verdict = VerdictAccept
			return
		}
	})

	return verdict
}

// advance applies a matched transition's side effects and reports
// whether it succeeded. Called with the descriptor's mutex held. A
// counter-armed transition whose baseline read fails leaves the
// descriptor entirely untouched (no DNS/duration side effects either)
// and reports false, per §4.7's counter-read-failure rule.
func (w *Worker) advance(d *Descriptor, tr Transition, facts PacketFacts, now time.Time) bool {
	var baseline CounterBaseline
	if tr.ArmsCounter != nil {
		var err error
		baseline, err = ReadBaseline(tr.ArmsCounter.Table, tr.ArmsCounter.Counter)
		if err != nil {
			return false
		}
	}

	if tr.ArmsRequest && facts.IsNameRequest {
		if w.DNSLookup != nil {
			if addr, ok := w.DNSLookup(facts.RequestName); ok {
				d.CachedIP = addr
				d.HasCachedIP = true
			}
		}
		d.TimeRequest = now
	}

	if tr.ArmsCounter != nil {
		d.counterBaselines[tr.ToState] = baseline
	}

	if tr.ArmsDuration {
		d.durationBaselines[tr.ToState] = rulebridge.ReadMicroseconds()
	}

	if d.InLoop && tr.ToState == d.LoopTarget {
		d.CurrentState = d.LoopTarget
		return true
	}
	d.CurrentState = tr.ToState
	return true
}

// CounterBaseline returns the baseline recorded when state was armed,
// if any.
func (d *Descriptor) CounterBaseline(state int) (CounterBaseline, bool) {
	b, ok := d.counterBaselines[state]
	return b, ok
}

// DurationBaseline returns the microsecond timestamp recorded when
// state was armed, if any.
func (d *Descriptor) DurationBaseline(state int) (uint64, bool) {
	b, ok := d.durationBaselines[state]
	return b, ok
}
