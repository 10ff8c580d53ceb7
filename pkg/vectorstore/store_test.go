package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedded(source string, index int, content string, vector ...float32) model.EmbeddedChunk {
	return model.EmbeddedChunk{
		Chunk: model.Chunk{
			ID:         fmt.Sprintf("%s#%d", source, index),
			Source:     source,
			Language:   "python",
			ChunkIndex: index,
			Content:    content,
		},
		Vector: vector,
	}
}

func TestFloatsRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, BytesToFloats(FloatsToBytes(v)))
	assert.Len(t, FloatsToBytes(v), 12)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

func TestTopKOrdersByScore(t *testing.T) {
	results := []model.ScoredChunk{
		{Chunk: model.Chunk{Source: "b.py"}, Score: 0.5},
		{Chunk: model.Chunk{Source: "a.py"}, Score: 0.9},
		{Chunk: model.Chunk{Source: "a.py", ChunkIndex: 1}, Score: 0.5},
	}
	top := TopK(results, 2)
	require.Len(t, top, 2)
	assert.Equal(t, 0.9, top[0].Score)
	assert.Equal(t, "a.py", top[1].Source)
	assert.Equal(t, 1, top[1].ChunkIndex)
}

func TestDimensions(t *testing.T) {
	_, err := Dimensions(nil)
	assert.ErrorIs(t, err, model.ErrNoDocuments)

	_, err = Dimensions([]model.EmbeddedChunk{embedded("a.py", 0, "x", 1, 2), embedded("a.py", 1, "y", 1)})
	assert.ErrorContains(t, err, "expected 2")

	dims, err := Dimensions([]model.EmbeddedChunk{embedded("a.py", 0, "x", 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
}

func TestLocalStoreSearchBeforeBuild(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "vectordb"), "fake")
	_, err := store.Search(context.Background(), []float32{1, 0}, 3)
	assert.ErrorIs(t, err, model.ErrEmptyStore)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocalStoreRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vectordb")
	store := NewLocalStore(dir, "fake")

	require.NoError(t, store.Rebuild(ctx, []model.EmbeddedChunk{
		embedded("auth.py", 0, "def login(): ...", 1, 0, 0),
		embedded("db.py", 0, "def connect(): ...", 0, 1, 0),
		embedded("auth.py", 1, "def logout(): ...", 0.9, 0.1, 0),
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := store.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "def login(): ...", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "auth.py", results[1].Source)
	assert.Equal(t, 1, results[1].ChunkIndex)

	_, err = store.Search(ctx, []float32{1, 0}, 2)
	assert.ErrorContains(t, err, "dimensions")

	assert.Equal(t, []string{filepath.Join(dir, "chunks.db")}, store.Files())
}

func TestLocalStoreRebuildReplacesPreviousIndex(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	dir := filepath.Join(parent, "vectordb")
	store := NewLocalStore(dir, "fake")

	require.NoError(t, store.Rebuild(ctx, []model.EmbeddedChunk{
		embedded("old.py", 0, "old content", 1, 0),
		embedded("old.py", 1, "old content 2", 0, 1),
	}))
	require.NoError(t, store.Rebuild(ctx, []model.EmbeddedChunk{
		embedded("new.py", 0, "new content", 1, 0),
	}))

	results, err := store.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new.py", results[0].Source)

	// 构建目录与旧目录都不应残留
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vectordb", entries[0].Name())
}

func TestLocalStoreFailedRebuildKeepsPublishedIndex(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(filepath.Join(t.TempDir(), "vectordb"), "fake")
	require.NoError(t, store.Rebuild(ctx, []model.EmbeddedChunk{embedded("a.py", 0, "kept", 1, 0)}))

	err := store.Rebuild(ctx, []model.EmbeddedChunk{
		embedded("b.py", 0, "x", 1, 0),
		embedded("b.py", 1, "y", 1),
	})
	require.Error(t, err)

	err = store.Rebuild(ctx, nil)
	assert.True(t, errors.Is(err, model.ErrNoDocuments))

	results, err := store.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Content)
}

func TestLocalStoreCancelledRebuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewLocalStore(filepath.Join(t.TempDir(), "vectordb"), "fake")
	assert.Error(t, store.Rebuild(ctx, []model.EmbeddedChunk{embedded("a.py", 0, "x", 1)}))

	_, err := store.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, model.ErrEmptyStore)
}

func TestNewLocalFromConfig(t *testing.T) {
	root := t.TempDir()
	cfg := config.Config{
		Workspace:   config.WorkspaceConfig{Root: root, Name: "demo"},
		VectorStore: config.VectorStoreConfig{Backend: "local", Dir: "vectordb"},
	}
	store, err := New(context.Background(), cfg, "fake")
	require.NoError(t, err)
	local, ok := store.(*LocalStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "demo", "vectordb"), local.dir)

	_, err = New(context.Background(), config.Config{VectorStore: config.VectorStoreConfig{Backend: "faiss"}}, "fake")
	assert.Error(t, err)
}

func TestPGVectorTableName(t *testing.T) {
	_, err := NewPGVectorStore(nil, "code_chunks_default", "m")
	assert.NoError(t, err)
	_, err = NewPGVectorStore(nil, "chunks; drop table x", "m")
	assert.Error(t, err)
	assert.Equal(t, "my_repo_1", identifierSafe("My-Repo.1"))
}

func TestPGVectorSQL(t *testing.T) {
	assert.Contains(t, createTableSQL("code_chunks", 384), `embedding vector(384) NOT NULL`)
	assert.Contains(t, createTableSQL("code_chunks", 384), `CREATE TABLE "code_chunks"`)
	q := searchSQL("code_chunks")
	assert.Contains(t, q, `ORDER BY embedding <=> $1`)
	assert.Contains(t, q, `LIMIT $2`)
}
