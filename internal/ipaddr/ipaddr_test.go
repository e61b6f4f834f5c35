// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddrRoundTrip(t *testing.T) {
	cases := []struct {
		s       string
		version uint8
	}{
		{"192.168.1.150", 4},
		{"108.138.225.17", 4},
		{"0.0.0.0", 4},
		{"255.255.255.255", 4},
		{"::1", 6},
		{"2001:db8::1", 6},
		{"fe80::1", 6},
	}

	for _, c := range cases {
		addr, err := ParseAddr(c.s, c.version)
		require.NoError(t, err, "ParseAddr(%q, %d)", c.s, c.version)
		assert.Equal(t, c.s, addr.String(), "round trip")
	}
}

func TestCompareIP(t *testing.T) {
	a4, _ := ParseAddr("10.0.0.1", 4)
	b4, _ := ParseAddr("10.0.0.1", 4)
	c4, _ := ParseAddr("10.0.0.2", 4)
	a6, _ := ParseAddr("::1", 6)

	assert.True(t, a4.Equal(a4), "compare_ip must be reflexive")
	assert.True(t, a4.Equal(b4) && b4.Equal(a4), "compare_ip must be symmetric")
	assert.False(t, a4.Equal(c4), "distinct addresses must not compare equal")
	assert.False(t, a4.Equal(a6) || a6.Equal(a4), "addresses of differing versions must never compare equal")
}

func TestHexDecodePayload(t *testing.T) {
	hexStr := "4500003c"
	buf, err := HexDecodePayload(hexStr)
	require.NoError(t, err)
	assert.Len(t, buf, len(hexStr)/2)
	assert.Equal(t, []byte{0x45, 0x00, 0x00, 0x3c}, buf)
}

func TestHashHexStable(t *testing.T) {
	h1 := HashHex([]byte("packet-payload"))
	h2 := HashHex([]byte("packet-payload"))
	assert.Equal(t, h1, h2, "hash of identical payloads must match")
	assert.Len(t, h1, 64, "expected 64 hex chars for sha256")
}
