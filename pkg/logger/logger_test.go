package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelRouting(t *testing.T) {
	var stdout, stderr bytes.Buffer
	Init("debug", &stdout, &stderr)
	t.Cleanup(func() { Init("info", os.Stdout, os.Stderr) })

	Infof("archived %d files", 3)
	Error("transfer failed")

	assert.Contains(t, stdout.String(), "archived 3 files")
	assert.NotContains(t, stdout.String(), "transfer failed")
	assert.Contains(t, stderr.String(), "transfer failed")
	assert.NotContains(t, stderr.String(), "archived")
}

func TestLevelFiltering(t *testing.T) {
	var stdout, stderr bytes.Buffer
	Init("warn", &stdout, &stderr)
	t.Cleanup(func() { Init("info", os.Stdout, os.Stderr) })

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn")
	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown warn")

	require.NoError(t, SetLevel("debug"))
	Debug("now visible")
	assert.Contains(t, stdout.String(), "now visible")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"", zerolog.InfoLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComponentTagsOutput(t *testing.T) {
	var stdout bytes.Buffer
	Init("info", &stdout, &bytes.Buffer{})
	t.Cleanup(func() { Init("info", os.Stdout, os.Stderr) })

	l := Component("archive")
	l.Info().Msg("hello")
	assert.Contains(t, stdout.String(), "component=archive")
}
