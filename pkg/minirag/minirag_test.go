package minirag

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/store"
)

const testDim = 256

func policyDocs() fstest.MapFS {
	return fstest.MapFS{
		"cafeteria.txt": {Data: []byte("The cafeteria opens at 8am.")},
		"vacation.txt":  {Data: []byte("Vacation requests need 2 weeks notice.")},
	}
}

func testBuildOptions(t *testing.T, docs fstest.MapFS) BuildOptions {
	t.Helper()

	opts := DefaultBuildOptions()
	opts.DocsFS = docs
	opts.OutputDir = t.TempDir()
	opts.Seed = 1
	return opts
}

// buildTestIndex builds docs into a temporary directory and loads the result.
func buildTestIndex(t *testing.T, docs fstest.MapFS) (*Index, string) {
	t.Helper()

	opts := testBuildOptions(t, docs)
	_, err := Build(context.Background(), opts, embedder.NewHashEmbedder(testDim), nil)
	require.NoError(t, err)

	ix, err := LoadIndex(opts.OutputDir)
	require.NoError(t, err)
	return ix, opts.OutputDir
}

// memoryIndex embeds each text as its own chunk without touching disk.
func memoryIndex(t *testing.T, buildID string, texts ...string) *Index {
	t.Helper()

	emb := embedder.NewHashEmbedder(testDim)
	seed := int64(1)
	graph, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = testDim
		o.Label = buildID
		o.RandomSeed = &seed
	})
	require.NoError(t, err)

	st := store.New()
	st.SetBuildID(buildID)
	for i, text := range texts {
		id, err := st.Append(store.Chunk{Source: "doc.txt", Start: uint32(i * 10), End: uint32(i*10 + len(text)), Text: text})
		require.NoError(t, err)

		v, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		require.NoError(t, graph.Insert(id, v))
	}

	ix, err := NewIndex(graph, st)
	require.NoError(t, err)
	return ix
}

// countingEmbedder wraps the hash embedder, counts batch calls and fails
// every call after failAfter when failAfter > 0.
type countingEmbedder struct {
	*embedder.HashEmbedder
	calls     atomic.Int32
	texts     atomic.Int32
	failAfter int32
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.calls.Add(1)
	if c.failAfter > 0 && n > c.failAfter {
		return nil, embedder.ErrUnavailable
	}
	c.texts.Add(int32(len(texts)))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}
