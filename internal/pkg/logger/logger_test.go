package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactEmail(tt.in), tt.in)
	}
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***4567", RedactPhone("+15551234567"))
	assert.Equal(t, "***", RedactPhone("123"))
}

func TestLogger_WritesJSONAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, true, &buf)

	l.Info("job sent", "recipient_email", "john.doe@example.com", "note", "cc jane@example.org")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "job sent", entry["msg"])
	assert.Equal(t, "jo***@example.com", entry["recipient_email"])
	assert.Equal(t, "cc ja***@example.org", entry["note"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, false, &buf)

	l.Info("ignored")
	l.Debug("ignored")
	l.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"kept"`)
}

func TestLogger_WithAddsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, false, &buf).With("component", "scheduler")

	l.Info("tick", "promoted", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "3", entry["promoted"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
