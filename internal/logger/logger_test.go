package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/printshop/internal/config"
)

func TestEventLoggerDemotesRoutineEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	events := NewEventLogger(zap.New(core))

	events.LogEvent(&fxevent.Started{})

	entries := logs.FilterMessage("started").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "fx", entries[0].LoggerName)
}

func TestEventLoggerKeepsFailuresAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	events := NewEventLogger(zap.New(core))

	events.LogEvent(&fxevent.Started{})
	events.LogEvent(&fxevent.Started{Err: errors.New("port in use")})

	require.Equal(t, 1, logs.Len(), "routine events stay below info")
	entry := logs.All()[0]
	require.Equal(t, zapcore.ErrorLevel, entry.Level)
	require.Equal(t, "start failed", entry.Message)
}

func TestBuildFallsBackToInfoOnUnknownLevel(t *testing.T) {
	log, err := Build(config.Observability{LogLevel: "loud", LogEncoding: "json", ServiceName: "printshop"})
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))
	require.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
