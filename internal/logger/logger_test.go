package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel verifies every accepted level name
func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"", LevelInfo},
		{"info", LevelInfo},
		{"warning", LevelWarning},
		{"WARN", LevelWarning},
		{"error", LevelError},
		{"fatal", LevelFatal},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

// TestConfigure verifies level changes take effect and bad names are rejected
func TestConfigure(t *testing.T) {
	original := GetLevel()
	t.Cleanup(func() { SetLevel(original) })

	require.NoError(t, Configure("debug", 0))
	assert.Equal(t, LevelDebug, GetLevel())

	require.NoError(t, Configure("", 0))
	assert.Equal(t, LevelDebug, GetLevel(), "empty level keeps the current one")

	assert.Error(t, Configure("nope", 0))
}

// TestJSONOutput verifies records are JSON with custom level names
func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	original := GetLevel()
	SetOutput(&buf)
	SetLevel(LevelTrace)
	t.Cleanup(func() { SetLevel(original) })

	Trace("deep detail", "rule", "R")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "TRACE", record["level"])
	assert.Equal(t, "deep detail", record["msg"])
	assert.Equal(t, "R", record["rule"])
}

// TestCountersIgnoreSampling verifies counters move even when output is sampled away
func TestCountersIgnoreSampling(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, Configure("", 1_000_000))
	t.Cleanup(func() { _ = Configure("", 1) })

	before := TotalErrors.Load()
	for i := 0; i < 10; i++ {
		Error("boom")
	}
	assert.Equal(t, before+10, TotalErrors.Load())

	execBefore, capBefore, errBefore := Executions.Load(), CapReached.Load(), RuleErrors.Load()
	RecordExecution(2, true)
	assert.Equal(t, execBefore+1, Executions.Load())
	assert.Equal(t, capBefore+1, CapReached.Load())
	assert.Equal(t, errBefore+2, RuleErrors.Load())
}
