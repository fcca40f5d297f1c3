package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"photorestore/internal/config"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
		env  string
		want zerolog.Level
	}{
		{"debug toggle wins", config.LoggingConfig{Level: "error", Debug: true}, "production", zerolog.DebugLevel},
		{"explicit warn", config.LoggingConfig{Level: "warn"}, "production", zerolog.WarnLevel},
		{"development default", config.LoggingConfig{}, "development", zerolog.DebugLevel},
		{"production default", config.LoggingConfig{}, "production", zerolog.InfoLevel},
		{"info", config.LoggingConfig{Level: "info"}, "development", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, level(tt.cfg, tt.env))
		})
	}
}

func TestWriterOutputIsPlain(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info"}, "development")
	logger.Info().Str("job_id", "j1").Msg("restoration started")

	out := buf.String()
	assert.Contains(t, out, "restoration started")
	assert.Contains(t, out, "job_id=j1")
	assert.NotContains(t, out, "\x1b[")
	assert.False(t, colorize(&buf))
}
