package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("debug message")
	l.Info("info message")
	require.Empty(t, buf.String(), "debug/info must be filtered at warn level")

	l.Warn("warn message")
	require.Contains(t, buf.String(), "warn message")

	buf.Reset()
	l.Error("error message", "key", "value")
	require.Contains(t, buf.String(), "error message")
	require.Contains(t, buf.String(), "key=value")
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := New(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	t.Cleanup(func() { SetDefault(New(nil)) })

	Info("hello")
	require.True(t, strings.Contains(buf.String(), "hello"))
}
