// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ssdp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/devicewall/internal/ipaddr"
)

func TestParseMessageMSearchToMulticast(t *testing.T) {
	dst, _ := ipaddr.ParseAddr(MulticastAddr, 4)
	msg := ParseMessage([]byte("M-SEARCH * HTTP/1.1\r\n"), dst)
	assert.True(t, msg.IsRequest, "expected a request when addressed to the multicast group")
	assert.Equal(t, MethodMSearch, msg.Method)
}

func TestParseMessageNotifyUnicast(t *testing.T) {
	dst, _ := ipaddr.ParseAddr("192.168.1.10", 4)
	msg := ParseMessage([]byte("NOTIFY * HTTP/1.1\r\n"), dst)
	assert.False(t, msg.IsRequest, "a unicast destination must not be treated as an SSDP request")
	assert.Equal(t, MethodNotify, msg.Method, "method is parsed regardless of is_request")
}

func TestParseMessageUnknownMethod(t *testing.T) {
	dst, _ := ipaddr.ParseAddr(MulticastAddr, 4)
	msg := ParseMessage([]byte("XYZ * HTTP/1.1\r\n"), dst)
	assert.Equal(t, MethodUnknown, msg.Method)
}
