package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOptions(Options{Level: WARN, Output: &buf, JSON: true})

	l.Debug("Editor", "hidden %d", 1)
	l.Info("Editor", "hidden %d", 2)
	l.Warn("Editor", "shown %d", 3)
	l.Error("", "shown %d", 4)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "Editor", lines[0]["module"])
	assert.Equal(t, "shown 3", lines[0]["message"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.NotContains(t, lines[1], "module")

	l.SetLevel(DEBUG)
	assert.Equal(t, DEBUG, l.GetLevel())
	buf.Reset()
	l.Debug("Editor", "now visible")
	assert.Len(t, decodeLines(t, &buf), 1)

	l.SetLevel(SILENT)
	buf.Reset()
	l.Error("Editor", "dropped")
	assert.Empty(t, buf.String())
}

func TestConsoleOutputCarriesModule(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)
	l.Info("Snapshot", "loaded %dx%d", 640, 360)

	out := buf.String()
	assert.Contains(t, out, "loaded 640x360")
	assert.Contains(t, out, "Snapshot")
	assert.Contains(t, out, "INF")
}

func TestWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOptions(Options{Level: INFO, Output: &buf, JSON: true})

	n, err := l.Writer("HTTP", INFO).Write([]byte("GET /a\n\nGET /b\n"))
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "GET /a", lines[0]["message"])
	assert.Equal(t, "GET /b", lines[1]["message"])
	assert.Equal(t, "HTTP", lines[1]["module"])
}

func TestFileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "dashboard.log")
	l := NewWithOptions(Options{Level: INFO, Output: &buf, JSON: true, File: path})
	l.Info("Main", "hello")
	require.NoError(t, l.Close())

	assert.FileExists(t, path)
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	got, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, INFO, got)
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
