package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	logger "sbatchjob/pkg/batch/util/logger"
)

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetLogLevel("INFO")
	})

	tests := []struct {
		name  string
		level string
		want  logger.LogLevel
	}{
		{name: "debug", level: "debug", want: logger.LevelDebug},
		{name: "warn alias", level: "WARNING", want: logger.LevelWarn},
		{name: "error", level: "ERROR", want: logger.LevelError},
		{name: "empty falls back to info", level: "", want: logger.LevelInfo},
		{name: "unknown falls back to info", level: "verbose", want: logger.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger.SetLogLevel(tt.level)
			assert.Equal(t, tt.want, logger.GetLogLevel())
		})
	}
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetLogLevel("INFO")
	})

	logger.SetLogLevel("WARN")
	logger.Infof("hidden %d", 1)
	logger.Warnf("shown %d", 2)
	logger.Errorf("shown %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "[WARN] shown 2")
	assert.Contains(t, out, "[ERROR] shown 3")
}
