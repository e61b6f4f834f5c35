// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package headers extracts layer-3/4 lengths and fields from raw packet
// bytes. Extractors never allocate beyond what a fixed-size result
// requires; callers pass the full payload starting at the IP header.
package headers

import (
	"encoding/binary"

	"grimm.is/devicewall/internal/ipaddr"
)

// IP protocol numbers relevant to the dissector pipeline.
const (
	ProtoICMP = 1
	ProtoIGMP = 2
	ProtoTCP  = 6
	ProtoUDP  = 17
)

const ipv6HeaderLength = 40
const udpHeaderLength = 8

// IPVersion returns the layer-3 version discriminated by the high 4 bits
// of byte 0: 4, 6, or 0 if neither.
func IPVersion(data []byte) int {
	if len(data) < 1 {
		return 0
	}
	switch data[0] >> 4 {
	case 4:
		return 4
	case 6:
		return 6
	default:
		return 0
	}
}

// IPv4HeaderLength is the low 4 bits of byte 0, in 32-bit words, times 4.
func IPv4HeaderLength(data []byte) int {
	if len(data) < 1 {
		return 0
	}
	return int(data[0]&0x0f) * 4
}

// IPv6HeaderLength is always 40: IPv6 carries extension headers outside
// the fixed header, which this dissector does not walk.
func IPv6HeaderLength(data []byte) int {
	return ipv6HeaderLength
}

// UDPHeaderLength is always 8.
func UDPHeaderLength(data []byte) int {
	return udpHeaderLength
}

// TCPHeaderLength is the high 4 bits of byte 12, in 32-bit words, times 4.
func TCPHeaderLength(data []byte) int {
	if len(data) < 13 {
		return 0
	}
	return int(data[12]>>4) * 4
}

// L3HeaderLength dispatches on IPVersion; returns 0 for neither.
func L3HeaderLength(data []byte) int {
	switch IPVersion(data) {
	case 4:
		return IPv4HeaderLength(data)
	case 6:
		return IPv6HeaderLength(data)
	default:
		return 0
	}
}

// nextProtocol returns the layer-4 protocol number: byte 9 for IPv4,
// byte 6 for IPv6.
func nextProtocol(data []byte) int {
	switch IPVersion(data) {
	case 4:
		if len(data) < 10 {
			return -1
		}
		return int(data[9])
	case 6:
		if len(data) < 7 {
			return -1
		}
		return int(data[6])
	default:
		return -1
	}
}

// Protocol returns the layer-4 protocol number: the IPv4 protocol
// field or the IPv6 next-header field, or -1 if the version is
// unrecognized or the buffer is too short to read it.
func Protocol(data []byte) int {
	return nextProtocol(data)
}

// HeadersLength combines the l3 header length with whichever l4 header
// (TCP or UDP) follows it; for any other next-protocol it is just the
// l3 length.
func HeadersLength(data []byte) int {
	l3 := L3HeaderLength(data)
	if l3 == 0 || l3 >= len(data) {
		return l3
	}
	switch nextProtocol(data) {
	case ProtoTCP:
		return l3 + TCPHeaderLength(data[l3:])
	case ProtoUDP:
		return l3 + UDPHeaderLength(data[l3:])
	default:
		return l3
	}
}

// UDPPayloadLength is the UDP length field (offset 4, big-endian u16)
// minus the 8-byte UDP header.
func UDPPayloadLength(data []byte) int {
	if len(data) < 6 {
		return 0
	}
	return int(binary.BigEndian.Uint16(data[4:6])) - udpHeaderLength
}

// SrcPort reads the source port at offset 0 of a TCP or UDP header.
func SrcPort(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(data[0:2])
}

// DstPort reads the destination port at offset 2 of a TCP or UDP header.
func DstPort(data []byte) uint16 {
	if len(data) < 4 {
		return 0
	}
	return binary.BigEndian.Uint16(data[2:4])
}

// IPv4Src reads the IPv4 source address, bytes 12-15.
func IPv4Src(data []byte) ipaddr.Addr {
	if len(data) < 16 {
		return ipaddr.Addr{}
	}
	return ipaddr.FromIPv4Bytes(data[12:16])
}

// IPv4Dst reads the IPv4 destination address, bytes 16-19.
func IPv4Dst(data []byte) ipaddr.Addr {
	if len(data) < 20 {
		return ipaddr.Addr{}
	}
	return ipaddr.FromIPv4Bytes(data[16:20])
}

// IPv6Src reads the IPv6 source address, bytes 8-23.
func IPv6Src(data []byte) ipaddr.Addr {
	if len(data) < 24 {
		return ipaddr.Addr{}
	}
	return ipaddr.FromIPv6Bytes(data[8:24])
}

// IPv6Dst reads the IPv6 destination address, bytes 24-39.
func IPv6Dst(data []byte) ipaddr.Addr {
	if len(data) < 40 {
		return ipaddr.Addr{}
	}
	return ipaddr.FromIPv6Bytes(data[24:40])
}
