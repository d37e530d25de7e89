package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf))

	l.Info("batch sent",
		Component("forwarder"),
		String("source", "app.log"),
		Int("messages", 3),
		Int64("offset", 42),
		Uint64("enqueued", 7),
		Float64("load", 0.5),
		Bool("gzip", true),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("boom")),
		Any("tags", []string{"a"}),
	)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "info", got["level"])
	require.Equal(t, "batch sent", got["message"])
	require.Equal(t, "forwarder", got["component"])
	require.Equal(t, "app.log", got["source"])
	require.EqualValues(t, 3, got["messages"])
	require.EqualValues(t, 42, got["offset"])
	require.EqualValues(t, 7, got["enqueued"])
	require.EqualValues(t, 0.5, got["load"])
	require.Equal(t, true, got["gzip"])
	require.EqualValues(t, 1500, got["took"])
	require.Equal(t, "boom", got["error"])
	require.Equal(t, []any{"a"}, got["tags"])
}

func TestZerologAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	l.Debug("hidden")
	l.Info("hidden")
	require.Zero(t, buf.Len())

	l.Warn("shown")
	require.Contains(t, buf.String(), `"level":"warn"`)
	buf.Reset()
	l.Error("shown")
	require.Contains(t, buf.String(), `"level":"error"`)
}

func TestOrNoop(t *testing.T) {
	require.Equal(t, NoopLogger{}, OrNoop(nil))

	z := NewZerologAdapter()
	require.Same(t, z, OrNoop(z))

	// NoopLogger accepts calls without output or panics.
	n := NewNoopLogger()
	n.Debug("x", String("k", "v"))
	n.Error("x", Err(nil))
}
