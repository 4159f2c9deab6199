package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrack(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	ctx := With(context.Background(), NewZapLogger(zap.New(core)))
	Track(ctx, "uid", "u-1")

	ctx2 := With(ctx, FromContext(ctx).Named("nested"))
	Track(ctx2, "generation", 7) // Should not propagate to the parent scope.

	Info(ctx, "root log")
	Info(ctx2, "nested log")

	require.Equal(t, 2, logs.Len())
	all := logs.All()
	assert.Equal(t, "root log", all[0].Message)
	assert.ElementsMatch(t, []zap.Field{zap.String("uid", "u-1")}, all[0].Context)

	assert.Equal(t, "nested log", all[1].Message)
	assert.Equal(t, "nested", all[1].LoggerName)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("uid", "u-1"),
		zap.Int("generation", 7),
	}, all[1].Context)
}

func TestFromContextWithoutLogger(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)

	// Must not panic.
	Infow(context.Background(), "discarded", "k", "v")
	Track(context.Background(), "k", "v")
}

func TestZapLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debugw("debug", "k", 1)
	l.Infof("info %d", 2)
	l.Warnw("warn", "k", 3)
	l.Errorw("error", "k", 4)

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, zap.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, "info 2", logs.All()[1].Message)
	assert.Equal(t, zap.WarnLevel, logs.All()[2].Level)
	assert.Equal(t, zap.ErrorLevel, logs.All()[3].Level)
}

func TestNewByMode(t *testing.T) {
	assert.IsType(t, &ZapLogger{}, New("prod"))
	assert.IsType(t, &ZapLogger{}, New("dev"))
	assert.IsType(t, &ZapLogger{}, NewNopLogger())
}
