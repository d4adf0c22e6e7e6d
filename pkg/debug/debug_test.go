package debug

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withCapturedLogger(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	originalEnabled := IsEnabled
	originalLevel := CurrentLevel
	originalLogger := logger
	t.Cleanup(func() {
		IsEnabled = originalEnabled
		CurrentLevel = originalLevel
		logger = originalLogger
	})

	var buf bytes.Buffer
	logger = log.New(&buf, "", 0)
	IsEnabled = true
	CurrentLevel = level
	return &buf
}

func TestReinitialize(t *testing.T) {
	originalDebug := os.Getenv("DEBUG")
	originalLogLevel := os.Getenv("LOG_LEVEL")
	originalEnabled := IsEnabled
	originalLevel := CurrentLevel
	defer func() {
		os.Setenv("DEBUG", originalDebug)
		os.Setenv("LOG_LEVEL", originalLogLevel)
		IsEnabled = originalEnabled
		CurrentLevel = originalLevel
	}()

	tests := []struct {
		name          string
		debugEnv      string
		logLevelEnv   string
		expectEnabled bool
		expectLevel   LogLevel
	}{
		{"disabled by default", "", "", false, LevelInfo},
		{"enabled with 1", "1", "", true, LevelInfo},
		{"level is case insensitive", "true", "error", true, LevelError},
		{"warn alias", "true", "warn", true, LevelWarning},
		{"invalid level falls back to info", "true", "LOUD", true, LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("DEBUG", tt.debugEnv)
			os.Setenv("LOG_LEVEL", tt.logLevelEnv)
			Reinitialize()

			assert.Equal(t, tt.expectEnabled, IsEnabled)
			assert.Equal(t, tt.expectLevel, CurrentLevel)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := withCapturedLogger(t, LevelWarning)

	Debug("debug msg")
	Info("info msg")
	assert.Empty(t, buf.String())

	Warning("warning msg %d", 1)
	assert.Contains(t, buf.String(), "[WARNING]")
	assert.Contains(t, buf.String(), "warning msg 1")

	buf.Reset()
	Error("error msg")
	assert.Contains(t, buf.String(), "[ERROR]")
}

func TestLogOutputFormat(t *testing.T) {
	buf := withCapturedLogger(t, LevelDebug)

	Info("test message")
	output := buf.String()

	assert.Contains(t, output, "[INFO]")
	assert.Regexp(t, `\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\]`, output)
	assert.Regexp(t, `\[\S+debug_test\.go:\d+\]`, output)
}

func TestFieldsSortedByKey(t *testing.T) {
	buf := withCapturedLogger(t, LevelDebug)

	Fields(LevelInfo, "job transition", map[string]interface{}{
		"state":  "running",
		"job_id": "abc",
		"seq":    3,
	})

	assert.Contains(t, buf.String(), "job transition job_id=abc seq=3 state=running")
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel(" debug ")
	assert.True(t, ok)
	assert.Equal(t, LevelDebug, level)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}

func logFromHelper() {
	Info("from helper")
}

func TestCallerIsTheLoggingFunction(t *testing.T) {
	buf := withCapturedLogger(t, LevelDebug)

	logFromHelper()
	assert.Contains(t, buf.String(), ".logFromHelper]")

	buf.Reset()
	Fields(LevelInfo, "structured", map[string]interface{}{"k": 1})
	assert.Contains(t, buf.String(), ".TestCallerIsTheLoggingFunction]")
}
