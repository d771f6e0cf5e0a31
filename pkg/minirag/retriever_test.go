package minirag

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/distance"
	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/store"
)

func TestRetrieverDefaultK(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	for _, k := range []int{0, -4} {
		snippets, err := r.AnswerContext(context.Background(), "vacation notice", k)
		require.NoError(t, err)
		assert.Len(t, snippets, DefaultK)
	}

	r, err = NewRetriever(ix, embedder.NewHashEmbedder(testDim), WithDefaultK(5))
	require.NoError(t, err)
	snippets, err := r.AnswerContext(context.Background(), "vacation notice", 0)
	require.NoError(t, err)
	assert.Len(t, snippets, 5)
}

func TestRetrieverOrderAndJoin(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), "vacation requests notice", 4)
	require.NoError(t, err)
	require.NotEmpty(t, snippets)

	assert.Equal(t, uint32(1), snippets[0].ChunkID)
	assert.Equal(t, sampleTexts[1], snippets[0].Text)
	assert.Equal(t, "doc.txt", snippets[0].Source.Source)
	assert.Equal(t, uint32(10), snippets[0].Start)

	for i := 1; i < len(snippets); i++ {
		assert.GreaterOrEqual(t, snippets[i-1].Score, snippets[i].Score)
	}
}

func TestRetrieverTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("policy ", 200) // 1400 characters
	ix := memoryIndex(t, "b", long)

	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), "policy", 1)
	require.NoError(t, err)
	require.Len(t, snippets, 1)

	assert.True(t, snippets[0].Truncated)
	assert.Equal(t, long[:DefaultSnippetChars]+"...", snippets[0].Text)

	r, err = NewRetriever(ix, embedder.NewHashEmbedder(testDim), WithSnippetChars(10))
	require.NoError(t, err)
	snippets, err = r.AnswerContext(context.Background(), "policy", 1)
	require.NoError(t, err)
	assert.Equal(t, "policy pol...", snippets[0].Text)
}

func TestTruncateCountsCharacters(t *testing.T) {
	s, cut := truncate("héllo wörld", 5)
	assert.True(t, cut)
	assert.Equal(t, "héllo...", s)

	s, cut = truncate("short", 5)
	assert.False(t, cut)
	assert.Equal(t, "short", s)
}

func TestRetrieverSkipsUnresolvedIDs(t *testing.T) {
	emb := embedder.NewHashEmbedder(testDim)
	graph, err := hnsw.New(func(o *hnsw.Options) { o.Dimension = testDim })
	require.NoError(t, err)

	st := store.New()
	for i, text := range sampleTexts[:3] {
		v, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		require.NoError(t, graph.Insert(uint32(i), v))
		if i < 2 {
			_, err = st.Append(store.Chunk{Source: "doc.txt", Start: 0, End: 1, Text: text})
			require.NoError(t, err)
		}
	}

	// Bypass NewIndex to simulate a partial mismatch.
	ix := &Index{graph: graph, store: st}
	r, err := NewRetriever(ix, emb)
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), sampleTexts[2], 3)
	require.NoError(t, err)
	assert.Len(t, snippets, 2)
	for _, s := range snippets {
		assert.NotEqual(t, uint32(2), s.ChunkID)
	}
}

func TestRetrieverEmptyIndex(t *testing.T) {
	ix := memoryIndex(t, "")
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestRetrieverErrors(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)

	_, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	_, err = r.AnswerContext(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	r, err = NewRetriever(ix, unavailableEmbedder{embedder.NewHashEmbedder(testDim)})
	require.NoError(t, err)
	_, err = r.AnswerContext(context.Background(), "cafeteria", 3)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, embedder.ErrUnavailable)
}

func TestRetrieverNormalizesQuery(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, scaledEmbedder{embedder.NewHashEmbedder(testDim), 7})
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), sampleTexts[0], 1)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.InDelta(t, 1.0, snippets[0].Score, 1e-5)
}

func TestRetrieverMinScore(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim), WithMinScore(0.99))
	require.NoError(t, err)

	snippets, err := r.AnswerContext(context.Background(), sampleTexts[3], 6)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, uint32(3), snippets[0].ChunkID)
}

type unavailableEmbedder struct{ *embedder.HashEmbedder }

func (unavailableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, embedder.ErrUnavailable
}

// scaledEmbedder returns vectors that are not unit length.
type scaledEmbedder struct {
	*embedder.HashEmbedder
	factor float32
}

func (s scaledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := s.HashEmbedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	for i := range v {
		v[i] *= s.factor
	}
	if distance.IsNormalized(v, 1e-3) {
		panic("scaled vector is still normalized")
	}
	return v, nil
}

func TestRetrieverConcurrentQueries(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)
	r, err := NewRetriever(ix, embedder.NewHashEmbedder(testDim))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 25; round++ {
				for i, text := range sampleTexts {
					snippets, err := r.AnswerContext(context.Background(), text, 3)
					if !assert.NoError(t, err) || !assert.Len(t, snippets, 3) {
						return
					}
					assert.Equal(t, uint32(i), snippets[0].ChunkID)
					assert.Equal(t, text, snippets[0].Text)
					for j := 1; j < len(snippets); j++ {
						assert.GreaterOrEqual(t, snippets[j-1].Score, snippets[j].Score)
					}
				}
			}
		}()
	}
	wg.Wait()
}
