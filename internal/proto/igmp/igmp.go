// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package igmp parses IGMP v1/v2 messages and IGMPv3 Membership
// Reports and Membership Queries.
package igmp

import (
	"encoding/binary"

	"grimm.is/devicewall/internal/ipaddr"
)

// MessageType is the IGMP message type byte.
type MessageType uint8

const (
	MembershipQuery    MessageType = 0x11
	V1MembershipReport MessageType = 0x12
	V2MembershipReport MessageType = 0x16
	LeaveGroup         MessageType = 0x17
	V3MembershipReport MessageType = 0x22
)

// V2Message covers IGMP v1, v2, Membership Query (v1/v2 form), and
// Leave Group: all of them share this wire layout.
type V2Message struct {
	MaxRespTime uint8
	Checksum    uint16
	GroupAddr   ipaddr.Addr
}

// V3GroupRecord is one group record within an IGMPv3 Membership Report.
type V3GroupRecord struct {
	Type       uint8
	AuxDataLen uint8
	GroupAddr  ipaddr.Addr
	Sources    []ipaddr.Addr
}

// V3MembershipReport is a parsed IGMPv3 Membership Report.
type V3MembershipReport struct {
	Checksum uint16
	Groups   []V3GroupRecord
}

// V3MembershipQuery is a parsed IGMPv3 Membership Query: a Membership
// Query (type 0x11) carrying the v3-specific S/QRV/QQIC fields and an
// optional source list, distinguished from the v1/v2 query form by
// message length (the v1/v2 form is exactly 8 bytes).
type V3MembershipQuery struct {
	MaxRespCode uint8
	Checksum    uint16
	GroupAddr   ipaddr.Addr
	Flags       uint8 // Resv(4) S(1) QRV(3)
	QQIC        uint8
	Sources     []ipaddr.Addr
}

// SuppressRouterSideProcessing is the S flag (bit 3 of Flags).
func (q V3MembershipQuery) SuppressRouterSideProcessing() bool {
	return q.Flags&0x08 != 0
}

// QuerierRobustnessVariable is the QRV field (low 3 bits of Flags).
func (q V3MembershipQuery) QuerierRobustnessVariable() uint8 {
	return q.Flags & 0x07
}

// Message is a generic parsed IGMP message: exactly one of the body
// fields is populated, selected by Version and Type.
type Message struct {
	Version uint8
	Type    MessageType

	V2       V2Message
	V3Report V3MembershipReport
	V3Query  V3MembershipQuery
}

func parseV2Message(data []byte) V2Message {
	if len(data) < 8 {
		return V2Message{}
	}
	return V2Message{
		MaxRespTime: data[1],
		Checksum:    binary.BigEndian.Uint16(data[2:4]),
		GroupAddr:   ipaddr.FromIPv4Bytes(data[4:8]),
	}
}

func parseV3Groups(numGroups uint16, data []byte) []V3GroupRecord {
	if numGroups == 0 {
		return nil
	}
	groups := make([]V3GroupRecord, 0, numGroups)
	offset := 0
	for i := uint16(0); i < numGroups; i++ {
		if offset+8 > len(data) {
			break
		}
		g := V3GroupRecord{
			Type:       data[offset],
			AuxDataLen: data[offset+1],
			GroupAddr:  ipaddr.FromIPv4Bytes(data[offset+4 : offset+8]),
		}
		numSources := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		sourcesStart := offset + 8
		for j := uint16(0); j < numSources; j++ {
			s := sourcesStart + int(j)*4
			if s+4 > len(data) {
				break
			}
			g.Sources = append(g.Sources, ipaddr.FromIPv4Bytes(data[s:s+4]))
		}
		groups = append(groups, g)
		offset = sourcesStart + int(numSources)*4
	}
	return groups
}

func parseV3MembershipReport(data []byte) V3MembershipReport {
	if len(data) < 8 {
		return V3MembershipReport{}
	}
	report := V3MembershipReport{
		Checksum: binary.BigEndian.Uint16(data[2:4]),
	}
	numGroups := binary.BigEndian.Uint16(data[6:8])
	report.Groups = parseV3Groups(numGroups, data[8:])
	return report
}

// parseSources reads a run of IPv4 source addresses starting at
// offset.
func parseSources(data []byte, offset int, count uint16) []ipaddr.Addr {
	var sources []ipaddr.Addr
	for i := uint16(0); i < count; i++ {
		s := offset + int(i)*4
		if s+4 > len(data) {
			break
		}
		sources = append(sources, ipaddr.FromIPv4Bytes(data[s:s+4]))
	}
	return sources
}

// parseV3MembershipQuery parses the v3 extension of a Membership
// Query: a message longer than the 8-byte v1/v2 form carries the
// Resv/S/QRV byte, QQIC, source count, and source list per RFC 3376
// §4.1.
func parseV3MembershipQuery(data []byte) V3MembershipQuery {
	if len(data) < 8 {
		return V3MembershipQuery{}
	}
	q := V3MembershipQuery{
		MaxRespCode: data[1],
		Checksum:    binary.BigEndian.Uint16(data[2:4]),
		GroupAddr:   ipaddr.FromIPv4Bytes(data[4:8]),
	}
	if len(data) < 12 {
		return q
	}
	q.Flags = data[8]
	q.QQIC = data[9]
	numSources := binary.BigEndian.Uint16(data[10:12])
	q.Sources = parseSources(data, 12, numSources)
	return q
}

// ParseMessage parses an IGMP message from its type byte. A
// Membership Query (0x11) is treated as the v3 form exactly when data
// is longer than the 8-byte v1/v2 query, per RFC 3376's length-based
// version discrimination. Every message body below is at least 8
// bytes on the wire; a shorter payload returns a Message carrying
// only Type, matching the rest of the dissector pipeline's rule that
// malformed trailers leave the affected fields absent rather than
// panicking.
func ParseMessage(data []byte) Message {
	msg := Message{}
	if len(data) < 1 {
		return msg
	}
	msg.Type = MessageType(data[0])
	if len(data) < 8 {
		return msg
	}

	switch msg.Type {
	case MembershipQuery:
		if len(data) > 8 {
			msg.Version = 3
			msg.V3Query = parseV3MembershipQuery(data)
		} else {
			msg.Version = 2
			msg.V2 = parseV2Message(data)
		}
	case V1MembershipReport, V2MembershipReport, LeaveGroup:
		msg.Version = 2
		msg.V2 = parseV2Message(data)
	case V3MembershipReport:
		msg.Version = 3
		msg.V3Report = parseV3MembershipReport(data)
	}
	return msg
}
