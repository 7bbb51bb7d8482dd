package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"dev":        zerolog.DebugLevel,
		"DEBUG":      zerolog.DebugLevel,
		" info ":     zerolog.InfoLevel,
		"warning":    zerolog.WarnLevel,
		"prod":       zerolog.ErrorLevel,
		"production": zerolog.ErrorLevel,
		"nonsense":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestInitExplicitLevelWinsOverEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer
	l := Init(Options{Level: "error", Fallback: zerolog.InfoLevel, Out: &buf})
	assert.Equal(t, zerolog.ErrorLevel, l.GetLevel())

	l.Info().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestPionLoggerWritesThrough(t *testing.T) {
	var buf bytes.Buffer
	root := zerolog.New(&buf).Level(zerolog.DebugLevel)
	f := NewLoggerFactory(root, zerolog.WarnLevel)

	l := f.NewLogger("ice")
	l.Debug("dropped")
	l.Warnf("kept %d", 1)

	out := buf.String()
	require.Contains(t, out, "kept 1")
	assert.Contains(t, out, `"mod":"ice"`)
	assert.NotContains(t, out, "dropped")
}
