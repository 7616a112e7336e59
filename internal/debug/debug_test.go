package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDebugOutputRespectsFlag(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	DebugOutput(false, "hidden %d", 1)
	DebugOutput(true, "shown %d", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "shown 2", entries[0].Message)
}

func TestDebugTiming(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	DebugTiming(false, "skipped")()
	assert.Equal(t, 0, logs.Len())

	done := DebugTiming(true, "load")
	done()

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "completed", entries[1].Message)
	assert.Equal(t, "load", entries[1].ContextMap()["operation"])
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("debug", format, "propmatch-test")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	}

	logger, err := NewLogger("bogus", "json", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
