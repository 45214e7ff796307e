package util

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyRecord(t *testing.T) {
	l := NewLatency()
	for i := 1; i <= 100; i++ {
		l.Record("read", time.Duration(i)*time.Microsecond)
	}
	l.Record("read", 0)

	assert.Equal(t, int64(101), l.Count("read"))
	assert.Equal(t, int64(0), l.Count("write"))
	assert.InDelta(t, 50, l.Percentile("read", 50), 1)
}

func TestLatencyReport(t *testing.T) {
	l := NewLatency()
	l.Record("get_serial_info", 3*time.Microsecond)
	l.Record("create_serial", 40*time.Microsecond)

	var b bytes.Buffer
	require.NoError(t, l.Report(&b))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "create_serial"))
	assert.True(t, strings.HasPrefix(lines[2], "get_serial_info"))

	l.Reset()
	b.Reset()
	require.NoError(t, l.Report(&b))
	assert.Equal(t, 1, strings.Count(b.String(), "\n"))
}
