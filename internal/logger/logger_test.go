package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode)
		require.NoError(t, err, "mode %q", mode)
		require.NotNil(t, l.SugaredLogger)
	}
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("habit", "gym").Info("checked off", "streak", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "checked off", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "gym", fields["habit"])
	assert.EqualValues(t, 3, fields["streak"])
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Info("ignored", "k", "v")
	l.Warn("ignored")
	l.Error("ignored")
	l.Sync()
}
