package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger() (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLoggerLevels(t *testing.T) {
	ctx := context.Background()
	log, buf := newBufferLogger()

	log.Debug(ctx, "d")
	log.Info(ctx, "i")
	log.Warn(ctx, "w")
	log.Error(ctx, "e", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG msg=d")
	assert.Contains(t, out, "level=INFO msg=i")
	assert.Contains(t, out, "level=WARN msg=w")
	assert.Contains(t, out, "level=ERROR msg=e key=value")
}

func TestSlogLoggerWith(t *testing.T) {
	ctx := context.Background()
	log, buf := newBufferLogger()

	log.With("module", "store").Info(ctx, "ready")

	assert.Contains(t, buf.String(), "module=store")
}

func TestNopLoggerIsSafe(t *testing.T) {
	log := NewNop()
	log.Info(context.Background(), "ignored")
	assert.NotNil(t, log.With("k", "v"))
}
