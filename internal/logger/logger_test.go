package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/logger"
)

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "extractor", "warn", "")

	log.Info("hidden")
	log.Warn("shown", "gazette", "abc")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, "service=extractor")
	require.Contains(t, out, "gazette=abc")
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "themes", "debug", "JSON")

	log.Debug("batch", "ids", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "DEBUG", record["level"])
	require.Equal(t, "themes", record["service"])
	require.EqualValues(t, 3, record["ids"])
}
