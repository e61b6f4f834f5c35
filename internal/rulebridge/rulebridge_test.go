// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rulebridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOf(t *testing.T) {
	buf := `table inet devicewall {
	chain forward {
		ip daddr 10.0.0.1 counter packets 4 bytes 240 accept # handle 12
	}
}`
	handle, ok := HandleOf(buf)
	require.True(t, ok, "expected a handle to be found")
	assert.Equal(t, 12, handle)
}

func TestHandleOfMissing(t *testing.T) {
	_, ok := HandleOf("no handle here")
	assert.False(t, ok, "expected ok=false when no handle is present")
}

func TestParseCounterOutputPackets(t *testing.T) {
	output := `table inet devicewall {
	counter cnt_policy_0 {
		packets 42 bytes 3360
	}
}`
	value, err := parseCounterOutput(output, "cnt_policy_0", CounterPackets)
	require.NoError(t, err)
	assert.EqualValues(t, 42, value)
}

func TestParseCounterOutputBytes(t *testing.T) {
	output := `counter cnt_policy_0 { packets 42 bytes 3360 }`
	value, err := parseCounterOutput(output, "cnt_policy_0", CounterBytes)
	require.NoError(t, err)
	assert.EqualValues(t, 3360, value)
}

func TestParseCounterOutputMissingField(t *testing.T) {
	_, err := parseCounterOutput("nothing useful here", "cnt_x", CounterPackets)
	assert.Error(t, err, "expected an error when the packets field is absent")
}
