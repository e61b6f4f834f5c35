// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dns parses DNS messages (RFC 1035) down to the fields the
// policy engine consumes: question names, answer rdata, and the
// CNAME-following name-to-address lookup (ResolveName).
package dns

import (
	"encoding/binary"
	"fmt"

	miekgdns "github.com/miekg/dns"

	"grimm.is/devicewall/internal/ipaddr"
)

// Record type numbers, grounded on the maintained enumeration in
// github.com/miekg/dns rather than hand-copied magic numbers.
const (
	TypeA     = miekgdns.TypeA
	TypeNS    = miekgdns.TypeNS
	TypeCNAME = miekgdns.TypeCNAME
	TypePTR   = miekgdns.TypePTR
	TypeAAAA  = miekgdns.TypeAAAA
)

const (
	headerSize      = 12
	qrFlagMask      = 0x8000
	classMask       = 0x7fff
	compressionFlag = 0xc0
	compressionMask = 0x3fff
	maxPointerHops  = 128 // bounds the compression-pointer chain against loops
)

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QR      bool
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is one entry of the question section.
type Question struct {
	Name   string
	QType  uint16
	QClass uint16
}

// RData is the tagged rdata variant: an IP address (A/AAAA), a domain
// name (NS/CNAME/PTR), or raw bytes for any other record type.
type RData interface {
	isRData()
}

// IPData is the rdata of an A or AAAA record.
type IPData struct {
	Addr ipaddr.Addr
}

func (IPData) isRData() {}

// NameData is the rdata of an NS, CNAME, or PTR record.
type NameData struct {
	Name string
}

func (NameData) isRData() {}

// BytesData is the rdata of any record type not otherwise recognized.
type BytesData struct {
	Data []byte
}

func (BytesData) isRData() {}

// Answer is one resource record from the answer section.
type Answer struct {
	Name     string
	Type     uint16
	Class    uint16
	TTL      uint32
	RDLength uint16
	RData    RData
}

// Message is a parsed DNS message.
type Message struct {
	Header    Header
	Questions []Question
	Answers   []Answer
}

// Parse decodes a DNS message from data. A message too short to contain
// a header is an error; beyond that, parsing is best-effort — a
// malformed question or answer trailer is dropped silently and earlier,
// valid fields are returned unchanged, matching the "parsers never
// throw" failure semantics.
func Parse(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("dns: message too short for header (%d bytes)", len(data))
	}

	flags := binary.BigEndian.Uint16(data[2:4])
	msg := &Message{
		Header: Header{
			ID:      binary.BigEndian.Uint16(data[0:2]),
			Flags:   flags,
			QR:      flags&qrFlagMask != 0,
			QDCount: binary.BigEndian.Uint16(data[4:6]),
			ANCount: binary.BigEndian.Uint16(data[6:8]),
			NSCount: binary.BigEndian.Uint16(data[8:10]),
			ARCount: binary.BigEndian.Uint16(data[10:12]),
		},
	}

	offset := headerSize
	for i := 0; i < int(msg.Header.QDCount); i++ {
		name, next, err := parseName(data, offset)
		if err != nil {
			return msg, nil
		}
		if next+4 > len(data) {
			return msg, nil
		}
		q := Question{
			Name:   name,
			QType:  binary.BigEndian.Uint16(data[next : next+2]),
			QClass: binary.BigEndian.Uint16(data[next+2 : next+4]),
		}
		msg.Questions = append(msg.Questions, q)
		offset = next + 4
	}

	// Answers are only parsed when the QR bit is set: this message
	// claims to be a response, so an answer section is expected.
	if !msg.Header.QR {
		return msg, nil
	}

	for i := 0; i < int(msg.Header.ANCount); i++ {
		ans, next, ok := parseAnswer(data, offset)
		if !ok {
			return msg, nil
		}
		msg.Answers = append(msg.Answers, ans)
		offset = next
	}

	return msg, nil
}

// parseName reads a (possibly compressed) domain name starting at
// offset and returns the dotted-label string, the offset just past the
// name in the main message stream (NOT following any pointer jump), and
// an error if the name ran off the end of the buffer or the pointer
// chain exceeded maxPointerHops.
func parseName(data []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	endPos := -1 // offset to resume the caller's stream at, set on first jump
	hops := 0

	for {
		if pos >= len(data) {
			return "", 0, fmt.Errorf("dns: name read past end of message")
		}
		length := data[pos]

		if length&compressionFlag == compressionFlag {
			if pos+1 >= len(data) {
				return "", 0, fmt.Errorf("dns: truncated compression pointer")
			}
			if endPos == -1 {
				endPos = pos + 2
			}
			ptr := binary.BigEndian.Uint16(data[pos:pos+2]) & compressionMask
			hops++
			if hops > maxPointerHops {
				return "", 0, fmt.Errorf("dns: compression pointer chain too long")
			}
			pos = int(ptr)
			continue
		}

		if length == 0 {
			pos++
			break
		}

		pos++
		if pos+int(length) > len(data) {
			return "", 0, fmt.Errorf("dns: label runs past end of message")
		}
		labels = append(labels, string(data[pos:pos+int(length)]))
		pos += int(length)
	}

	if endPos == -1 {
		endPos = pos
	}

	name := ""
	for i, l := range labels {
		if i > 0 {
			name += "."
		}
		name += l
	}
	return name, endPos, nil
}

func parseAnswer(data []byte, offset int) (Answer, int, bool) {
	name, next, err := parseName(data, offset)
	if err != nil {
		return Answer{}, 0, false
	}
	if next+10 > len(data) {
		return Answer{}, 0, false
	}

	rtype := binary.BigEndian.Uint16(data[next : next+2])
	rclass := binary.BigEndian.Uint16(data[next+2:next+4]) & classMask
	ttl := binary.BigEndian.Uint32(data[next+4 : next+8])
	rdlength := binary.BigEndian.Uint16(data[next+8 : next+10])
	rdataStart := next + 10
	rdataEnd := rdataStart + int(rdlength)
	if rdataEnd > len(data) {
		return Answer{}, 0, false
	}

	ans := Answer{
		Name:     name,
		Type:     rtype,
		Class:    rclass,
		TTL:      ttl,
		RDLength: rdlength,
	}

	switch rtype {
	case TypeA:
		if rdlength == 4 {
			ans.RData = IPData{Addr: ipaddr.FromIPv4Bytes(data[rdataStart:rdataEnd])}
		}
	case TypeAAAA:
		if rdlength == 16 {
			ans.RData = IPData{Addr: ipaddr.FromIPv6Bytes(data[rdataStart:rdataEnd])}
		}
	case TypeNS, TypeCNAME, TypePTR:
		if rdataName, _, err := parseName(data, rdataStart); err == nil {
			ans.RData = NameData{Name: rdataName}
		}
	default:
		ans.RData = BytesData{Data: append([]byte(nil), data[rdataStart:rdataEnd]...)}
	}

	return ans, rdataEnd, true
}

// ResolveName implements dns_get_ip_from_name: a single forward pass
// over the answer section that follows a CNAME chain from name to its
// terminal address record. Returns the address and true if the chain
// resolves to an A/AAAA record within this message; false otherwise.
func (m *Message) ResolveName(name string) (ipaddr.Addr, bool) {
	target := name
	for _, ans := range m.Answers {
		if ans.Name != target {
			continue
		}
		switch rd := ans.RData.(type) {
		case IPData:
			return rd.Addr, true
		case NameData:
			target = rd.Name
		}
	}
	return ipaddr.Addr{}, false
}
