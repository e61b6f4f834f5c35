// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dissect is the protocol dissector pipeline: given a raw
// packet starting at its IP header, it picks the right per-protocol
// parser by port/IP-protocol number and folds the result into the
// protocol-agnostic PacketFacts the policy engine evaluates. A packet
// that isn't one of the protocols a device profile can bind to yields
// an (almost) empty PacketFacts — the engine's activity-period and
// freshness checks still run, but no predicate that inspects a
// protocol-specific field will match it.
package dissect

import (
	"grimm.is/devicewall/internal/dnscache"
	"grimm.is/devicewall/internal/headers"
	"grimm.is/devicewall/internal/ipaddr"
	"grimm.is/devicewall/internal/policyengine"
	"grimm.is/devicewall/internal/proto/coap"
	"grimm.is/devicewall/internal/proto/dhcp"
	"grimm.is/devicewall/internal/proto/dns"
	"grimm.is/devicewall/internal/proto/http"
	"grimm.is/devicewall/internal/proto/igmp"
	"grimm.is/devicewall/internal/proto/ssdp"
)

// Well-known ports the pipeline dispatches on. HTTP is recognized by
// http.ParseMessage's own port check rather than a case here, since TCP
// is dispatched unconditionally to dissectTCP.
const (
	portDNS  = 53
	portCoAP = 5683
	portSSDP = 1900
)

// Packet dissects one raw IP packet into PacketFacts. cache receives the
// addresses each DNS response resolves, for name-bound request/response
// bookkeeping; it is never read here, and it may be nil, in which case
// nothing is cached.
func Packet(data []byte, cache *dnscache.Cache) policyengine.PacketFacts {
	var facts policyengine.PacketFacts

	switch headers.IPVersion(data) {
	case 4:
		facts.SrcIP = headers.IPv4Src(data)
		facts.DstIP = headers.IPv4Dst(data)
	case 6:
		facts.SrcIP = headers.IPv6Src(data)
		facts.DstIP = headers.IPv6Dst(data)
	default:
		return facts
	}

	l3 := headers.L3HeaderLength(data)
	if l3 <= 0 || l3 >= len(data) {
		return facts
	}

	switch headers.Protocol(data) {
	case headers.ProtoUDP:
		dissectUDP(data[l3:], &facts, cache)
	case headers.ProtoIGMP:
		if l4 := data[l3:]; len(l4) >= 1 {
			dissectIGMP(l4, &facts)
		}
	case headers.ProtoTCP:
		dissectTCP(data[l3:], &facts)
	}

	return facts
}

func dissectUDP(l4 []byte, facts *policyengine.PacketFacts, cache *dnscache.Cache) {
	if len(l4) < headers.UDPHeaderLength(l4) {
		return
	}
	facts.DstPort = headers.DstPort(l4)
	srcPort := headers.SrcPort(l4)
	payload := l4[headers.UDPHeaderLength(l4):]

	switch {
	case facts.DstPort == portDNS || srcPort == portDNS:
		dissectDNS(payload, facts, cache)
	case facts.DstPort == 67 || facts.DstPort == 68:
		dissectDHCP(payload, facts)
	case facts.DstPort == portCoAP || srcPort == portCoAP:
		dissectCoAP(payload, facts)
	case facts.DstPort == portSSDP || srcPort == portSSDP:
		dissectSSDP(payload, facts)
	}
}

func dissectTCP(l4 []byte, facts *policyengine.PacketFacts) {
	hlen := headers.TCPHeaderLength(l4)
	if hlen <= 0 || hlen >= len(l4) {
		return
	}
	facts.DstPort = headers.DstPort(l4)
	payload := l4[hlen:]
	if len(payload) < http.MinMessageLength {
		return
	}
	msg := http.ParseMessage(payload, facts.DstPort)
	if msg.IsRequest {
		facts.HTTPURI = msg.URI
		facts.IsNameRequest = true
		facts.RequestName = msg.URI
	}
}

func dissectDNS(payload []byte, facts *policyengine.PacketFacts, cache *dnscache.Cache) {
	msg, err := dns.Parse(payload)
	if err != nil {
		return
	}
	if !msg.Header.QR {
		// A query: the request side of a name-bound transition.
		facts.IsNameRequest = true
		if len(msg.Questions) > 0 {
			facts.DNSQName = msg.Questions[0].Name
			facts.RequestName = msg.Questions[0].Name
		}
		return
	}

	// A response: fold every resolved address into the cache, keyed by
	// question name, and mark this as the response half of the
	// transition so a worker can check it against CachedIP.
	facts.IsResponse = true
	if len(msg.Questions) > 0 {
		facts.DNSQName = msg.Questions[0].Name
	}
	if cache == nil {
		return
	}
	for name, addrs := range collectAddresses(msg) {
		cache.Add(name, addrs)
	}
}

func collectAddresses(msg *dns.Message) map[string][]ipaddr.Addr {
	out := make(map[string][]ipaddr.Addr)
	if len(msg.Questions) == 0 {
		return out
	}
	name := msg.Questions[0].Name
	for _, a := range msg.Answers {
		ipData, ok := a.RData.(dns.IPData)
		if !ok {
			continue
		}
		out[name] = append(out[name], ipData.Addr)
	}
	return out
}

func dissectDHCP(payload []byte, facts *policyengine.PacketFacts) {
	msg := dhcp.ParseMessage(payload)
	if msg.Options.IsDiscover() {
		facts.IsNameRequest = true
		if name, ok := msg.Options.HostName(); ok {
			facts.RequestName = name
		}
	}
}

func dissectCoAP(payload []byte, facts *policyengine.PacketFacts) {
	msg := coap.ParseMessage(payload, len(payload))
	facts.CoAPURI = msg.URI
	if msg.Type == coap.TypeConfirmable || msg.Type == coap.TypeNonConfirmable {
		facts.IsNameRequest = true
		facts.RequestName = msg.URI
	} else {
		facts.IsResponse = true
	}
}

func dissectSSDP(payload []byte, facts *policyengine.PacketFacts) {
	msg := ssdp.ParseMessage(payload, facts.DstIP)
	facts.SSDPMethod = msg.Method.String()
	if msg.IsRequest {
		facts.IsNameRequest = true
	} else {
		facts.IsResponse = true
	}
}

func dissectIGMP(payload []byte, facts *policyengine.PacketFacts) {
	msg := igmp.ParseMessage(payload)
	switch msg.Type {
	case igmp.V1MembershipReport, igmp.V2MembershipReport:
		facts.IGMPGroup = msg.V2.GroupAddr
		facts.IsResponse = true
	case igmp.V3MembershipReport:
		if len(msg.V3Report.Groups) > 0 {
			facts.IGMPGroup = msg.V3Report.Groups[0].GroupAddr
		}
		facts.IsResponse = true
	case igmp.MembershipQuery:
		if msg.Version == 3 {
			facts.IGMPGroup = msg.V3Query.GroupAddr
		} else {
			facts.IGMPGroup = msg.V2.GroupAddr
		}
		facts.IsNameRequest = true
	}
}
