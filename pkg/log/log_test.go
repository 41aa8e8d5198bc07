package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{" warn ", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithIdentity("01c6b711-a7d4-4bdf-bb2b-10b4b60594bc")
	logger.Info().Str("volume_id", "vol-1").Msg("volume attached")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "volume attached", entry["message"])
	assert.Equal(t, "01c6b711-a7d4-4bdf-bb2b-10b4b60594bc", entry["uuid"])
	assert.Equal(t, "vol-1", entry["volume_id"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithComponent("volume")
	logger.Info().Msg("dropped")
	logger.Warn().Msg("dropped")
	logger.Error().Err(errors.New("VolumeInUse")).Msg("delete failed")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"error":"VolumeInUse"`)
	assert.Contains(t, out, `"message":"delete failed"`)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithComponent("reconciler")
	logger.Debug().Msg("sweep")

	assert.Contains(t, buf.String(), `"component":"reconciler"`)
}
