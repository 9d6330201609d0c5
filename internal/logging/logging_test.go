package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewTo(&buf, "info", FormatJSON)
	require.NoError(t, err)

	log.Named("conn").Sugar().Infow("connected", "attempt", 2)
	log.Debug("hidden")
	require.NoError(t, log.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "conn", entry["component"])
	assert.Equal(t, "connected", entry["msg"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewTo(&buf, "DEBUG", FormatConsole)
	require.NoError(t, err)

	log.Debug("ticking")
	require.NoError(t, log.Sync())
	assert.Contains(t, buf.String(), " | ticking")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewTo(&buf, "loud", FormatJSON)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRejectsUnknownFormat(t *testing.T) {
	_, err := NewTo(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
