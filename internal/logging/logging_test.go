package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"growpod/internal/config"
)

func TestJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	ledgerLogger := Component(logger, "ledger")
	ledgerLogger.Info().Msg("dropped")
	ledgerLogger.Warn().Uint64("block", 3).Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	require.Equal(t, "warn", event["level"])
	require.Equal(t, "ledger", event["component"])
	require.Equal(t, "kept", event["message"])
	require.EqualValues(t, 3, event["block"])
	require.Contains(t, event, "time")
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.Log{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)
	logger.Debug().Str("pod_id", "pod-1").Msg("environment recorded")
	require.Contains(t, buf.String(), "environment recorded")
	require.Contains(t, buf.String(), "pod_id=pod-1")
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.Log{Level: "loud"}, nil)
	require.Error(t, err)
	_, err = New(config.Log{Format: "xml"}, nil)
	require.Error(t, err)
}
