package auditsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), testEvent())

	denied := testEvent()
	denied.EventType = "request_unauthenticated"
	denied.Success = false
	denied.Error = "invalid_credentials"
	denied.Metadata = map[string]string{"remaining": "2"}
	sink.Emit(context.Background(), denied)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, int64(42), entries[0].ContextMap()["identity_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	ctx := entries[1].ContextMap()
	assert.Equal(t, "invalid_credentials", ctx["error"])
	assert.Equal(t, "request_unauthenticated", ctx["event_type"])
	assert.Contains(t, ctx, "metadata")
}

func TestZapSinkNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewZapSink(nil).Emit(context.Background(), testEvent())
	})
}
