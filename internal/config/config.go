// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the device profile a worker binary is started
// with: one HCL file per device, naming its policy group's base queue
// id, activity window, and the transition table each policy's state
// machine runs. Unlike a hot-reloadable control-plane config, a device
// profile is read once at process start and handed to the supervisor.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/devicewall/internal/errors"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/policyengine"
	"grimm.is/devicewall/internal/schedule"
)

// DeviceProfile is one device's profile: the labeled device block of a
// profile HCL file.
type DeviceProfile struct {
	Name               string         `hcl:"name,label"`
	BaseQueueID        int            `hcl:"base_queue_id"`
	NumStates          int            `hcl:"num_states"`
	InLoop             bool           `hcl:"in_loop,optional"`
	LoopTarget         int            `hcl:"loop_target,optional"`
	FreshnessThreshold float64        `hcl:"freshness_threshold,optional"`
	ActivityPeriod     ActivityPeriod `hcl:"activity_period,block"`
	Policies           []PolicySpec   `hcl:"policy,block"`

	// Interface names the network interface the supervisor validates
	// (link present and up) before spawning this profile's workers.
	// NetNS, when set, is entered first.
	Interface string `hcl:"interface,optional"`
	NetNS     string `hcl:"netns,optional"`
}

// ActivityPeriod is the cron-like window a device profile's policies
// are scoped to (§4.5).
type ActivityPeriod struct {
	Start    string `hcl:"start"`
	Duration string `hcl:"duration"`
}

// PolicySpec is one policy within a device's policy group: the queue
// offset it binds (implicitly, by its position in Policies), the nft
// table/counter its baseline reads come from, and its transition table.
type PolicySpec struct {
	Name        string           `hcl:"name,label"`
	Table       string           `hcl:"table,optional"`
	Counter     string           `hcl:"counter,optional"`
	Transitions []TransitionSpec `hcl:"transition,block"`
}

// TransitionSpec is one HCL-declared edge of a policy's state machine.
// Exactly how Match is interpreted into a policyengine.Predicate is the
// loader's job; the engine itself never sees this struct.
type TransitionSpec struct {
	FromState    int       `hcl:"from_state"`
	ToState      int       `hcl:"to_state"`
	ArmsRequest  bool      `hcl:"arms_request,optional"`
	ArmsCounter  bool      `hcl:"arms_counter,optional"`
	ArmsDuration bool      `hcl:"arms_duration,optional"`
	Match        MatchSpec `hcl:"match,block"`
}

// MatchSpec declares which PacketFacts fields a transition's predicate
// checks. A field left at its zero value is not checked at all, so a
// transition can match on DNS qname alone, URI prefix alone, and so on.
type MatchSpec struct {
	DNSQName      string `hcl:"dns_qname,optional"`
	HTTPURIPrefix string `hcl:"http_uri_prefix,optional"`
	CoAPURIPrefix string `hcl:"coap_uri_prefix,optional"`
	SSDPMethod    string `hcl:"ssdp_method,optional"`
	IGMPGroup     string `hcl:"igmp_group,optional"`
	IsNameRequest bool   `hcl:"is_name_request,optional"`
	IsResponse    bool   `hcl:"is_response,optional"`
}

// profileFile is the layout of a device-profile HCL file: a single
// labeled device block.
type profileFile struct {
	Device DeviceProfile `hcl:"device,block"`
}

// Load decodes a device profile from an HCL file.
func Load(path string) (*DeviceProfile, error) {
	var file profileFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "decoding device profile")
	}
	profile := file.Device
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadBytes decodes a device profile from in-memory HCL source,
// primarily for tests.
func LoadBytes(filename string, data []byte) (*DeviceProfile, error) {
	var file profileFile
	if err := hclsimple.Decode(filename, data, nil, &file); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "decoding device profile")
	}
	profile := file.Device
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (p *DeviceProfile) validate() error {
	if p.NumStates <= 0 {
		return errors.New(errors.KindValidation, "num_states must be positive")
	}
	if len(p.Policies) == 0 {
		return errors.New(errors.KindValidation, "device profile must declare at least one policy")
	}
	for _, policy := range p.Policies {
		for _, tr := range policy.Transitions {
			if tr.FromState < 0 || tr.FromState >= p.NumStates || tr.ToState < 0 || tr.ToState >= p.NumStates {
				return errors.Errorf(errors.KindValidation, "policy %q: transition state out of range [0,%d)", policy.Name, p.NumStates)
			}
		}
	}
	return nil
}

// Period converts the HCL activity period into the schedule package's
// representation.
func (p *DeviceProfile) Period() schedule.Period {
	return schedule.Period{Start: p.ActivityPeriod.Start, Duration: p.ActivityPeriod.Duration}
}

// TransitionTable builds the opaque predicate closures the policy
// engine evaluates against, from one policy's declared transitions.
// This is the device-profile loader's half of the Open Question
// resolution described alongside the engine: the engine never parses
// match declarations, only the closures built here.
func (policy PolicySpec) TransitionTable() policyengine.TransitionTable {
	table := make(policyengine.TransitionTable, 0, len(policy.Transitions))
	for _, tr := range policy.Transitions {
		table = append(table, policyengine.Transition{
			FromState:    tr.FromState,
			ToState:      tr.ToState,
			ArmsRequest:  tr.ArmsRequest,
			ArmsDuration: tr.ArmsDuration,
			ArmsCounter:  counterSpecFor(policy, tr),
			Predicate:    buildPredicate(tr.Match),
		})
	}
	return table
}

func counterSpecFor(policy PolicySpec, tr TransitionSpec) *policyengine.CounterSpec {
	if !tr.ArmsCounter || policy.Table == "" || policy.Counter == "" {
		return nil
	}
	return &policyengine.CounterSpec{Table: policy.Table, Counter: policy.Counter}
}

// buildPredicate composes a single predicate from every field MatchSpec
// actually declared; an empty/false field imposes no constraint, so a
// match declaring only dns_qname matches on that field alone.
func buildPredicate(m MatchSpec) policyengine.Predicate {
	var group ipaddr.Addr
	var hasGroup bool
	if m.IGMPGroup != "" {
		if addr, err := ipaddr.ParseAddr(m.IGMPGroup, 4); err == nil {
			group, hasGroup = addr, true
		}
	}

	return func(f policyengine.PacketFacts) bool {
		if m.IsNameRequest && !f.IsNameRequest {
			return false
		}
		if m.IsResponse && !f.IsResponse {
			return false
		}
		if m.DNSQName != "" && f.DNSQName != m.DNSQName {
			return false
		}
		if m.HTTPURIPrefix != "" && !hasPrefix(f.HTTPURI, m.HTTPURIPrefix) {
			return false
		}
		if m.CoAPURIPrefix != "" && !hasPrefix(f.CoAPURI, m.CoAPURIPrefix) {
			return false
		}
		if m.SSDPMethod != "" && f.SSDPMethod != m.SSDPMethod {
			return false
		}
		if hasGroup && !f.IGMPGroup.Equal(group) {
			return false
		}
		return true
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
