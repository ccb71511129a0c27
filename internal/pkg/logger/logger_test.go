package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(&buf, level)
	l.sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger_LevelsAndFields(t *testing.T) {
	l, buf := newTestLogger(INFO)

	l.Debug("hidden")
	l.Info("run finished", "customers", 3, "dry_run", false, "stage", "join")
	l.Error("run failed", "error", errors.New("boom"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "run finished", entries[0]["msg"])
	assert.Equal(t, "2024-01-02T03:04:05Z", entries[0]["time"])
	assert.Equal(t, float64(3), entries[0]["customers"])
	assert.Equal(t, false, entries[0]["dry_run"])
	assert.Equal(t, "join", entries[0]["stage"])

	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestLogger_With(t *testing.T) {
	l, buf := newTestLogger(DEBUG)
	child := l.With("run_id", "r-1")

	child.Debug("parsed", "source", "leads")
	l.Info("parent")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "r-1", entries[0]["run_id"])
	assert.Equal(t, "leads", entries[0]["source"])
	_, ok := entries[1]["run_id"]
	assert.False(t, ok, "child fields must not leak into the parent")
}

func TestLogger_Redaction(t *testing.T) {
	l, buf := newTestLogger(INFO)
	l.Info("lead", "email", "john.doe@example.com", "phone", "+15550102000", "note", "contact ab@example.com now")

	l.SetRedactPII(false)
	l.Info("raw", "email", "john.doe@example.com")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "jo***@example.com", entries[0]["email"])
	assert.Equal(t, "***00", entries[0]["phone"])
	assert.Equal(t, "contact ***@example.com now", entries[0]["note"])
	assert.Equal(t, "john.doe@example.com", entries[1]["email"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("chatty"))
	assert.Equal(t, "WARN", WARN.String())
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "", RedactEmail(""))
	assert.Equal(t, "***", RedactPhone("12"))
}
