package logging

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorCloser struct{ err error }

func (e *errorCloser) Close() error { return e.err }

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, "json").Info("hello", "train_id", 7)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"train_id":7`)

	buf.Reset()
	logger := New(&buf, slog.LevelWarn, "text")
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")

	buf.Reset()
	New(&buf, slog.LevelInfo, "").Info("default")
	assert.Contains(t, buf.String(), `"msg":"default"`)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	LogError(logger, "fetch failed", assert.AnError, slog.Int64("train_id", 7))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error":"assert.AnError general error for testing"`)
	assert.Contains(t, out, `"train_id":7`)

	LogError(nil, "ignored", assert.AnError)
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	LogOperation(logger, "cycle finished", slog.Duration("duration", 0), slog.Int("fetched", 3))
	assert.NotContains(t, buf.String(), "duration")
	assert.Contains(t, buf.String(), `"fetched":3`)

	buf.Reset()
	LogOperation(logger, "cycle finished", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), "duration")
}

func TestSafeClose(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	SafeClose(&errorCloser{}, logger, "close_db")
	assert.Empty(t, buf.String())

	SafeClose(&errorCloser{err: assert.AnError}, logger, "close_db")
	assert.Contains(t, buf.String(), `"msg":"failed to close resource"`)
	assert.Contains(t, buf.String(), `"operation":"close_db"`)

	SafeClose(nil, logger, "noop")
}
