package server

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/generator"
	"github.com/perbu/policynav/pkg/minirag"
)

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, generator.Prompt, generator.Params) (string, error) {
	return "stub answer", nil
}

func (stubGenerator) Name() string { return "stub" }

func buildService(t *testing.T) *minirag.Service {
	t.Helper()

	docs := fstest.MapFS{
		"holidays.md":  {Data: []byte("The cafeteria is closed on public holidays and weekends.")},
		"parking.md":   {Data: []byte("Parking permits are issued by facilities each January.")},
		"expenses.txt": {Data: []byte("Submit expense reports within thirty days of purchase.")},
	}

	emb := embedder.NewHashEmbedder(256)
	opts := minirag.DefaultBuildOptions()
	opts.DocsFS = docs
	opts.OutputDir = t.TempDir()
	opts.Seed = 1

	_, err := minirag.Build(context.Background(), opts, emb, nil)
	require.NoError(t, err)

	ix, err := minirag.LoadIndex(opts.OutputDir)
	require.NoError(t, err)

	r, err := minirag.NewRetriever(ix, emb)
	require.NoError(t, err)
	return minirag.NewService(r, minirag.NewAnswerer(stubGenerator{}))
}
