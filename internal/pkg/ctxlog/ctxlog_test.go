package ctxlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_DefaultsToSlogDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AccumulatesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx, _ = With(ctx, "job_id", "j1")
	ctx, logger := With(ctx, "attempt", 2)

	assert.Same(t, logger, FromContext(ctx))

	FromContext(ctx).Info("processing")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "j1", line["job_id"])
	assert.Equal(t, float64(2), line["attempt"])
	assert.Equal(t, "processing", line["msg"])
}
