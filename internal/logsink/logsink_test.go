// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logsink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHeaderMatchesOriginalColumns(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader())
	assert.Equal(t, "id,hash,timestamp,policy,state,verdict\n", buf.String())
}

func TestWriteEntrySequenceNumbersStartAtOne(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ts := time.Unix(1700000000, 500000000)

	require.NoError(t, w.WriteEntry([]byte("payload-one"), ts, "policy0,1,accept"))
	require.NoError(t, w.WriteEntry([]byte("payload-two"), ts, "policy0,2,accept"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1,"), "first row should start with sequence id 1, got %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2,"), "second row should start with sequence id 2, got %q", lines[1])
	assert.True(t, strings.HasSuffix(lines[0], ",policy0,1,accept"),
		"first row should end with the log prefix verbatim, got %q", lines[0])
}

func TestWriteEntryHashIsDeterministic(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	w1, w2 := NewWriter(&buf1), NewWriter(&buf2)
	ts := time.Unix(1700000000, 0)

	_ = w1.WriteEntry([]byte("same payload"), ts, "p,0,drop")
	_ = w2.WriteEntry([]byte("same payload"), ts, "p,0,drop")

	fields1 := strings.Split(buf1.String(), ",")
	fields2 := strings.Split(buf2.String(), ",")
	assert.Equal(t, fields2[1], fields1[1], "hash of identical payloads differs")
	assert.Len(t, fields1[1], 64, "expected a 64-character hex SHA-256 digest")
}
