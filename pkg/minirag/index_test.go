package minirag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/policynav/pkg/embedder"
	"github.com/perbu/policynav/pkg/hnsw"
	"github.com/perbu/policynav/pkg/store"
)

var sampleTexts = []string{
	"The cafeteria opens at 8am.",
	"Vacation requests need 2 weeks notice.",
	"Parking permits are issued by facilities.",
	"Expense reports are due monthly.",
	"Laptops are refreshed every three years.",
	"Visitors must be escorted at all times.",
}

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	ix := memoryIndex(t, "build-1", sampleTexts...)
	dir := t.TempDir()
	require.NoError(t, ix.Save(dir))

	loaded, err := LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), loaded.Len())
	assert.Equal(t, "build-1", loaded.BuildID())
	assert.Equal(t, ix.Graph().Len(), loaded.Graph().Len())

	emb := embedder.NewHashEmbedder(testDim)
	for _, q := range []string{"cafeteria hours", "vacation notice", "laptop refresh", "visitor escort"} {
		v, err := emb.Embed(context.Background(), q)
		require.NoError(t, err)

		want, err := ix.Search(v, 3, 0)
		require.NoError(t, err)
		got, err := loaded.Search(v, 3, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for id := range ix.Len() {
		want, err := ix.Chunk(uint32(id))
		require.NoError(t, err)
		got, err := loaded.Chunk(uint32(id))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadIndexMissingFiles(t *testing.T) {
	for _, name := range []string{GraphFile, MetadataFile} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, memoryIndex(t, "b", sampleTexts...).Save(dir))
			require.NoError(t, os.Remove(filepath.Join(dir, name)))

			_, err := LoadIndex(dir)
			assert.ErrorIs(t, err, ErrCorruptIndex)
		})
	}

	_, err := LoadIndex(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestLoadIndexTruncatedMetadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, memoryIndex(t, "b", sampleTexts...).Save(dir))

	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o644))

	_, err = LoadIndex(dir)
	assert.ErrorIs(t, err, ErrCorruptIndex)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestLoadIndexTruncatedGraph(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, memoryIndex(t, "b", sampleTexts...).Save(dir))

	path := filepath.Join(dir, GraphFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	_, err = LoadIndex(dir)
	assert.ErrorIs(t, err, ErrCorruptIndex)
	assert.ErrorIs(t, err, hnsw.ErrCorrupt)
}

func TestLoadIndexCountMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, memoryIndex(t, "b", sampleTexts...).Save(dir))

	short := store.New()
	short.SetBuildID("b")
	_, err := short.Append(store.Chunk{Source: "doc.txt", Start: 0, End: 4, Text: "text"})
	require.NoError(t, err)
	require.NoError(t, short.Save(filepath.Join(dir, MetadataFile)))

	_, err = LoadIndex(dir)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestLoadIndexBuildMismatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, memoryIndex(t, "first", sampleTexts...).Save(a))
	require.NoError(t, memoryIndex(t, "second", sampleTexts...).Save(b))

	data, err := os.ReadFile(filepath.Join(b, MetadataFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a, MetadataFile), data, 0o644))

	_, err = LoadIndex(a)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestNewIndexRejectsMismatch(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)

	st := store.New()
	st.SetBuildID("b")
	_, err := NewIndex(ix.Graph(), st)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestIndexChunkNotFound(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts[:2]...)

	_, err := ix.Chunk(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndexSurrounding(t *testing.T) {
	ix := memoryIndex(t, "b", sampleTexts...)

	around := ix.Surrounding(2, 1)
	require.Len(t, around, 3)
	assert.Equal(t, uint32(1), around[0].ID)
	assert.Equal(t, uint32(3), around[2].ID)

	edge := ix.Surrounding(0, 2)
	assert.Len(t, edge, 3)

	assert.Nil(t, ix.Surrounding(99, 1))
}

func TestSaveReplacesPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, memoryIndex(t, "first", sampleTexts...).Save(dir))
	require.NoError(t, memoryIndex(t, "second", sampleTexts[:3]...).Save(dir))

	ix, err := LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, "second", ix.BuildID())
	assert.Equal(t, 3, ix.Len())
	assert.NoFileExists(t, filepath.Join(dir, GraphFile+prevSuffix))
}

func TestSaveRestoresGraphWhenMetadataRenameFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, memoryIndex(t, "first", sampleTexts...).Save(dir))

	rename = func(from, to string) error {
		if filepath.Base(to) == MetadataFile {
			return errors.New("no space left on device")
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	err := memoryIndex(t, "second", sampleTexts[:3]...).Save(dir)
	require.Error(t, err)
	rename = os.Rename

	ix, err := LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, "first", ix.BuildID())
	assert.Equal(t, len(sampleTexts), ix.Len())
	assert.NoFileExists(t, filepath.Join(dir, GraphFile+prevSuffix))
}

func TestLoadIndexRecoversInterruptedSave(t *testing.T) {
	dir, other := t.TempDir(), t.TempDir()
	require.NoError(t, memoryIndex(t, "first", sampleTexts...).Save(dir))
	require.NoError(t, memoryIndex(t, "second", sampleTexts[:3]...).Save(other))

	// State after the new graph was renamed in but before the metadata was.
	graphPath := filepath.Join(dir, GraphFile)
	require.NoError(t, os.Rename(graphPath, graphPath+prevSuffix))
	data, err := os.ReadFile(filepath.Join(other, GraphFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(graphPath, data, 0o644))

	ix, err := LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, "first", ix.BuildID())

	// Graph already moved aside, new one not yet in place.
	require.NoError(t, os.Remove(graphPath))
	ix, err = LoadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, "first", ix.BuildID())
}
