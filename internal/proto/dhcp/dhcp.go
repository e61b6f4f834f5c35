// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcp parses BOOTP/DHCP messages: the fixed 236-byte header and
// the TLV option stream that follows it. Option codes and message-type
// values are grounded on the maintained enumeration in
// github.com/insomniacslk/dhcp/dhcpv4 rather than hand-copied magic
// numbers.
package dhcp

import (
	"encoding/binary"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"grimm.is/devicewall/internal/ipaddr"
)

const (
	headerLength = 236
	magicCookie  = 0x63825363
	maxHWLen     = 16
	snameLen     = 64
	fileLen      = 128
)

var (
	optMessageType = uint8(dhcpv4.OptionDHCPMessageType)
	optEnd         = uint8(255)
	optPad         = uint8(0)
)

// Header mirrors the fixed BOOTP/DHCP header. Ciaddr, Yiaddr, Siaddr,
// and Giaddr are stored exactly as they arrive on the wire: the
// original parser never byte-swaps these fields, unlike Xid, Secs, and
// Flags which it converts to host order.
type Header struct {
	Op     uint8
	Htype  uint8
	Hlen   uint8
	Hops   uint8
	Xid    uint32
	Secs   uint16
	Flags  uint16
	Ciaddr ipaddr.Addr
	Yiaddr ipaddr.Addr
	Siaddr ipaddr.Addr
	Giaddr ipaddr.Addr
	Chaddr [maxHWLen]byte
	Sname  [snameLen]byte
	File   [fileLen]byte
}

// Option is one TLV entry from the options stream. PAD and END carry no
// value; Value is nil for both.
type Option struct {
	Code  uint8
	Value []byte
}

// Options is the parsed option stream, plus the DHCP_MESSAGE_TYPE(53)
// value hoisted out as a convenience field the way the original parser
// does.
type Options struct {
	MessageType uint8
	List        []Option
}

// Message is a complete parsed DHCP message: header plus options.
type Message struct {
	Header  Header
	Options Options
}

// ParseHeader reads the fixed 236-byte BOOTP/DHCP header at the
// documented byte offsets. data shorter than headerLength yields a
// zero-value Header past whatever the slice covers.
func ParseHeader(data []byte) Header {
	var h Header
	if len(data) > 0 {
		h.Op = data[0]
	}
	if len(data) > 1 {
		h.Htype = data[1]
	}
	if len(data) > 2 {
		h.Hlen = data[2]
	}
	if len(data) > 3 {
		h.Hops = data[3]
	}
	if len(data) >= 8 {
		h.Xid = binary.BigEndian.Uint32(data[4:8])
	}
	if len(data) >= 10 {
		h.Secs = binary.BigEndian.Uint16(data[8:10])
	}
	if len(data) >= 12 {
		h.Flags = binary.BigEndian.Uint16(data[10:12])
	}
	if len(data) >= 16 {
		h.Ciaddr = ipaddr.FromIPv4Bytes(data[12:16])
	}
	if len(data) >= 20 {
		h.Yiaddr = ipaddr.FromIPv4Bytes(data[16:20])
	}
	if len(data) >= 24 {
		h.Siaddr = ipaddr.FromIPv4Bytes(data[20:24])
	}
	if len(data) >= 28 {
		h.Giaddr = ipaddr.FromIPv4Bytes(data[24:28])
	}
	if len(data) >= 44 {
		copy(h.Chaddr[:], data[28:44])
	}
	if len(data) >= 108 {
		copy(h.Sname[:], data[44:108])
	}
	if len(data) >= headerLength {
		copy(h.File[:], data[108:headerLength])
	}
	return h
}

// ParseOption reads a single TLV starting at offset: PAD and END are
// one byte with no length/value; every other code is a length byte
// followed by that many value bytes. Returns the option, the offset
// just past it, and ok=false if the option ran off the end of data.
func ParseOption(data []byte, offset int) (Option, int, bool) {
	if offset >= len(data) {
		return Option{}, offset, false
	}
	code := data[offset]
	if code == optPad || code == optEnd {
		return Option{Code: code}, offset + 1, true
	}
	if offset+1 >= len(data) {
		return Option{}, offset, false
	}
	length := int(data[offset+1])
	start := offset + 2
	end := start + length
	if end > len(data) {
		return Option{}, offset, false
	}
	return Option{Code: code, Value: append([]byte(nil), data[start:end]...)}, end, true
}

// ParseOptions walks the option buffer that follows the fixed header.
// The buffer's first four bytes must be the DHCP magic cookie; on
// mismatch this returns an empty Options rather than an error, matching
// the original parser's clean-fail-on-malformed-input behavior. When
// the walk reaches the END option it appends it as the last entry and
// stops; a stream that runs out before END has no END entry.
func ParseOptions(data []byte) Options {
	var opts Options
	if len(data) < 4 || binary.BigEndian.Uint32(data[0:4]) != magicCookie {
		return opts
	}

	offset := 4
	for {
		opt, next, ok := ParseOption(data, offset)
		if !ok {
			break
		}
		opts.List = append(opts.List, opt)
		offset = next

		if opt.Code == optMessageType && len(opt.Value) > 0 {
			opts.MessageType = opt.Value[0]
		}
		if opt.Code == optEnd {
			break
		}
	}

	// The original parser grows its option array by doubling and
	// shrinks it to the exact final count once the terminating END is
	// stored; a fresh exact-length copy gives the same "no trailing
	// slack" guarantee.
	if opts.List != nil {
		trimmed := make([]Option, len(opts.List))
		copy(trimmed, opts.List)
		opts.List = trimmed
	}
	return opts
}

// ParseMessage parses a full DHCP message: the fixed header, then the
// option stream starting exactly at byte 236.
func ParseMessage(data []byte) Message {
	msg := Message{Header: ParseHeader(data)}
	if len(data) > headerLength {
		msg.Options = ParseOptions(data[headerLength:])
	}
	return msg
}

// HostName returns the value of the Host Name option (12), if present.
func (o Options) HostName() (string, bool) {
	for _, opt := range o.List {
		if opt.Code == uint8(dhcpv4.OptionHostName) {
			return string(opt.Value), true
		}
	}
	return "", false
}

// IsDiscover reports whether this message's hoisted message type is
// DHCPDISCOVER.
func (o Options) IsDiscover() bool {
	return o.MessageType == uint8(dhcpv4.MessageTypeDiscover)
}
