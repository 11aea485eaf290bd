package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logFunc func(l *Logger)
		want    bool
	}{
		{"debug hidden at info", "info", func(l *Logger) { l.Debug("hidden %d", 1) }, false},
		{"info shown at info", "info", func(l *Logger) { l.Info("shown %d", 1) }, true},
		{"warn hidden at error", "error", func(l *Logger) { l.Warn("hidden") }, false},
		{"error shown at error", "error", func(l *Logger) { l.Error("shown") }, true},
		{"unknown level falls back to info", "verbose", func(l *Logger) { l.Info("shown") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLoggerWithFormat(tt.level, "json", &buf)
			tt.logFunc(l)
			assert.Equal(t, tt.want, buf.Len() > 0)
		})
	}
}

func TestLogger_WithAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithFormat("debug", "json", &buf).With("component", "audit")

	l.Info("appended %s", "abc")

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"audit"`))
	assert.True(t, strings.Contains(out, `"message":"appended abc"`))
}
