package minirag

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/embedder"
)

func bufferLogger(buf *bytes.Buffer) *Logger {
	return NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, gojson.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestLogger_SearchThroughRetriever(t *testing.T) {
	var buf bytes.Buffer
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim), WithRetrieverLogger(bufferLogger(&buf)))
	require.NoError(t, err)

	_, err = r.AnswerContext(context.Background(), sampleTexts[0], 2)
	require.NoError(t, err)

	recs := decodeRecords(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "search completed", recs[0]["msg"])
	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.EqualValues(t, 2, recs[0]["k"])
	assert.EqualValues(t, 2, recs[0]["results"])
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf).WithRequestID("req-1")
	ctx := context.Background()

	l.LogSearch(ctx, 3, 1, 2, nil)
	l.LogSearch(ctx, 3, 0, 0, errors.New("boom"))
	l.LogAnswer(ctx, "fake", true, time.Millisecond, nil)

	recs := decodeRecords(t, &buf)
	require.Len(t, recs, 3)

	assert.Equal(t, "WARN", recs[0]["level"])
	assert.EqualValues(t, 2, recs[0]["skipped"])
	assert.Equal(t, "ERROR", recs[1]["level"])
	assert.Equal(t, "boom", recs[1]["error"])
	assert.Equal(t, "model response had no extractable answer", recs[2]["msg"])
	for _, rec := range recs {
		assert.Equal(t, "req-1", rec["request_id"])
	}
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
