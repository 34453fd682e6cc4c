package localagg

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hupe1980/localagg/lagerr"
	"github.com/stretchr/testify/assert"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(buf, LogFormatText, slog.LevelDebug)
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).WithRun("fungi").With("k", 5)
	ctx := context.Background()

	l.LogEpoch(ctx, 2, 1.25, 0.01, 3)
	l.LogBatch(ctx, 2, 7, 10, 0.5)
	l.LogClusterRefresh(ctx, 4, true, nil)
	l.LogClusterRefresh(ctx, 5, false, errors.New("boom"))
	l.LogCheckpoint(ctx, "save", "model_in_training.tar", nil)

	out := buf.String()
	assert.Contains(t, out, "run=fungi")
	assert.Contains(t, out, "k=5")
	assert.Contains(t, out, `msg="epoch completed"`)
	assert.Contains(t, out, "empty_positives=3")
	assert.Contains(t, out, "batches=10")
	assert.Contains(t, out, `msg="cluster refresh started"`)
	assert.Contains(t, out, `msg="cluster refresh failed"`)
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, `msg="checkpoint save"`)
	assert.Contains(t, out, "name=model_in_training.tar")
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogFormatJSON, slog.LevelInfo)

	l.LogClusterRefresh(context.Background(), 1, false, nil)
	assert.Empty(t, buf.String(), "successful refreshes are debug records")

	l.LogCheckpoint(context.Background(), "load", "latest", errors.New("gone"))
	assert.Contains(t, buf.String(), `"msg":"checkpoint failed"`)
	assert.Contains(t, buf.String(), `"op":"load"`)
	assert.Contains(t, buf.String(), `"error":"gone"`)
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	assert.NotNil(t, FromSlog(nil))
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, lagerr.Configf("bad k"), ErrConfig)
	var err error = &IndexError{ID: 9, Len: 3}
	assert.ErrorIs(t, err, ErrIndex)
	err = &DimensionMismatchError{Expected: 4, Actual: 3}
	assert.ErrorIs(t, err, ErrValue)
}

func TestMetricsAliases(t *testing.T) {
	var c MetricsCollector = &BasicMetricsCollector{}
	c.RecordEpoch(1, 0.5, 0.01, 0)
	assert.Equal(t, int64(1), c.(*BasicMetricsCollector).GetStats().EpochCount)

	c = NoopMetricsCollector{}
	c.RecordEpoch(1, 0.5, 0.01, 0)
}
