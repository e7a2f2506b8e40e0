package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtxEnrichesBase(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "user-1")
	FromCtx(ctx, base).Infow("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "trace-1", fields["trace_id"])
	require.Equal(t, "user-1", fields["user_id"])
}

func TestFromCtxPrefersAttachedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	attached := zap.New(core).Sugar().With("scoped", true)
	base := zap.NewNop().Sugar()

	ctx := WithLogger(context.Background(), attached)
	FromCtx(ctx, base).Info("x")
	require.Equal(t, 1, logs.Len())
	require.Equal(t, true, logs.All()[0].ContextMap()["scoped"])
}

func TestDetachKeepsValues(t *testing.T) {
	ctx, cancel := context.WithCancel(WithTraceID(context.Background(), "t"))
	cancel()
	d := Detach(ctx)
	require.NoError(t, d.Err())
	require.Equal(t, "t", TraceID(d))
}
