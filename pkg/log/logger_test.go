package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{LogLevel: zerolog.DebugLevel, Type: JSONLogger, Out: &buf})
	t.Cleanup(func() {
		Root, Storage, Txn = zerolog.Nop(), zerolog.Nop(), zerolog.Nop()
	})

	Storage.Info().Str("path", "/tmp/x").Msg("opened")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "storage", line["component"])
	assert.Equal(t, "opened", line["message"])
	assert.Equal(t, "/tmp/x", line["path"])
}

func TestPebbleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewPebbleLogger(zerolog.New(&buf))

	l.Infof("flushed %d tables", 3)
	l.Errorf("background error: %s", "disk")

	out := buf.String()
	assert.Contains(t, out, `"message":"flushed 3 tables"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"engine":"pebble"`)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
