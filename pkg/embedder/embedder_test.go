package embedder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/distance"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(256)

	a, err := e.Embed(ctx, "The cafeteria opens at 8am.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "The cafeteria opens at 8am.")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
	assert.True(t, distance.IsNormalized(a, 1e-5))
	assert.Equal(t, "hash-fnv64a-256", e.ModelInfo())
}

func TestHashEmbedderSimilarity(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultHashDimension, e.Dimension())

	vecs, err := e.EmbedBatch(ctx, []string{
		"when does the cafeteria open",
		"The cafeteria opens at 8am.",
		"Vacation requests need 2 weeks notice.",
	})
	require.NoError(t, err)

	related := distance.Dot(vecs[0], vecs[1])
	unrelated := distance.Dot(vecs[0], vecs[2])
	assert.Greater(t, related, float32(0.5))
	assert.Greater(t, related, unrelated)
}

func TestHashEmbedderEdgeCases(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(32)

	_, err := e.Embed(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	v, err := e.Embed(ctx, "the and of")
	require.NoError(t, err)
	assert.True(t, distance.IsNormalized(v, 1e-5))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Embed(cancelled, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"cafeteria", "open", "8am"}, tokenize("The cafeteria OPENS at 8am."))
	assert.Equal(t, []string{"access", "bus"}, tokenize("access, bus"))
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type fakeEmbeddingServer struct {
	mu       sync.Mutex
	requests int
	status   int
	reverse  bool
}

func (f *fakeEmbeddingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		return
	}

	var req embeddingRequest
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	type item struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, 0, len(req.Input))
	for i, text := range req.Input {
		// Vector encodes the text length so the test can check ordering.
		data = append(data, item{Object: "embedding", Embedding: []float32{float32(len(text)), 1, 0}, Index: i})
	}
	if f.reverse {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = gojson.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
	})
}

func newTestOpenAI(t *testing.T, srv *fakeEmbeddingServer, batch int) *OpenAIEmbedder {
	t.Helper()

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:      "test",
		BaseURL:     ts.URL + "/v1",
		Dimension:   3,
		BatchSize:   batch,
		Concurrency: 2,
	})
	require.NoError(t, err)
	return e
}

func TestOpenAIEmbedderBatches(t *testing.T) {
	srv := &fakeEmbeddingServer{reverse: true}
	e := newTestOpenAI(t, srv, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	var mu sync.Mutex
	var last int
	vecs, err := e.EmbedBatchWithProgress(context.Background(), texts, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(texts), total)
		last = max(last, done)
	})
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	assert.Equal(t, 3, srv.requests)
	assert.Equal(t, len(texts), last)
	for i, v := range vecs {
		assert.True(t, distance.IsNormalized(v, 1e-5))
		// First component is proportional to the text length.
		want, _ := distance.NormalizeL2Copy([]float32{float32(len(texts[i])), 1, 0})
		assert.InDeltaSlice(t, want, v, 1e-6)
	}
	assert.Equal(t, "openai-"+DefaultOpenAIModel, e.ModelInfo())
}

func TestOpenAIEmbedderUnavailable(t *testing.T) {
	e := newTestOpenAI(t, &fakeEmbeddingServer{status: http.StatusInternalServerError}, 8)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	srv := &fakeEmbeddingServer{}
	e := newTestOpenAI(t, srv, 8)
	e.dim = 4

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOpenAIEmbedderRejectsEmptyText(t *testing.T) {
	srv := &fakeEmbeddingServer{}
	e := newTestOpenAI(t, srv, 8)

	_, err := e.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, srv.requests)
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)
}

func TestHashModelInfo(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewHashEmbedder(8).ModelInfo(), "hash-"))
}
