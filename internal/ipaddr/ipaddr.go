// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ipaddr provides the tagged IP address value type and the
// payload hex/hash helpers the protocol dissectors build on.
package ipaddr

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
)

// Addr is a tagged IP address: version 4 carries a 32-bit network-order
// integer, version 6 carries a 16-byte array. Two Addrs compare equal
// only when both the version and the underlying bytes match — an IPv4
// address is never equal to an IPv6 address, even a mapped one.
type Addr struct {
	Version uint8
	v4      uint32
	v6      [16]byte
}

// FromIPv4Bytes builds an Addr from 4 raw network-order bytes, the shape
// the header dissector hands back from an IPv4 src/dst field.
func FromIPv4Bytes(b []byte) Addr {
	var a Addr
	a.Version = 4
	a.v4 = binary.BigEndian.Uint32(b[:4])
	return a
}

// FromIPv6Bytes builds an Addr from 16 raw bytes.
func FromIPv6Bytes(b []byte) Addr {
	var a Addr
	a.Version = 6
	copy(a.v6[:], b[:16])
	return a
}

// Equal implements compare_ip: reflexive, symmetric, false whenever the
// versions differ or the version itself is unrecognized.
func (a Addr) Equal(b Addr) bool {
	if a.Version != b.Version {
		return false
	}
	switch a.Version {
	case 4:
		return a.v4 == b.v4
	case 6:
		return a.v6 == b.v6
	default:
		return false
	}
}

// Bytes returns the address in network byte order: 4 bytes for IPv4, 16
// for IPv6, nil for an unset/unknown version.
func (a Addr) Bytes() []byte {
	switch a.Version {
	case 4:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, a.v4)
		return b
	case 6:
		b := make([]byte, 16)
		copy(b, a.v6[:])
		return b
	default:
		return nil
	}
}

// String renders the address in its conventional textual form,
// dispatching on Version the way ip_net_to_str dispatches on
// ip_addr_t.version. An unrecognized version yields "" rather than
// panicking, matching the original's stderr-and-empty-string behavior.
func (a Addr) String() string {
	switch a.Version {
	case 4:
		return net.IP(a.Bytes()).String()
	case 6:
		return net.IP(a.Bytes()).String()
	default:
		return ""
	}
}

// ParseAddr implements ip_str_to_net: parses a textual address into an
// Addr of the requested version. Returns an error (rather than a sentinel
// value) on malformed input or a version/text mismatch — the original's
// "print to stderr and return zero value" is replaced with an ordinary
// Go error so callers can decide whether a parse failure should drop the
// packet or merely skip the field.
func ParseAddr(s string, version uint8) (Addr, error) {
	switch version {
	case 4:
		ip := net.ParseIP(s)
		v4 := ip.To4()
		if v4 == nil {
			return Addr{}, fmt.Errorf("ipaddr: %q is not a valid IPv4 address", s)
		}
		return FromIPv4Bytes(v4), nil
	case 6:
		ip := net.ParseIP(s)
		v6 := ip.To16()
		if v6 == nil || ip.To4() != nil {
			return Addr{}, fmt.Errorf("ipaddr: %q is not a valid IPv6 address", s)
		}
		return FromIPv6Bytes(v6), nil
	default:
		return Addr{}, fmt.Errorf("ipaddr: unsupported version %d", version)
	}
}

// HexDecodePayload implements hexstr_to_payload: decodes a hex string
// into a byte buffer of exactly len(hex)/2 bytes.
func HexDecodePayload(hexstr string) ([]byte, error) {
	return hex.DecodeString(hexstr)
}

// HashPayload computes the SHA-256 digest of a payload, the hash the log
// sidecar records alongside each packet's receive timestamp.
func HashPayload(payload []byte) [32]byte {
	return sha256.Sum256(payload)
}

// HashHex is HashPayload rendered as a lowercase hex string, the form
// the log sidecar's CSV rows actually carry.
func HashHex(payload []byte) string {
	h := HashPayload(payload)
	return hex.EncodeToString(h[:])
}

// MACString renders a raw hardware address (as found in a DHCP chaddr
// field) in colon-separated form.
func MACString(b []byte) string {
	return net.HardwareAddr(b).String()
}
