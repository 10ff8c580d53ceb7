package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"
	"chatwithcode/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexerConfig() config.IndexerConfig {
	return config.IndexerConfig{
		Language:        "python",
		ExcludeGlobs:    []string{"node_modules", "vendor"},
		MaxFileSize:     1000,
		ParserThreshold: 500,
		ChunkSize:       1000,
		Overlap:         100,
	}
}

type fakeUploader struct {
	files []string
	err   error
}

func (f *fakeUploader) UploadSnapshot(_ context.Context, workspace string, files []string) (string, error) {
	f.files = files
	return "snapshots/" + workspace + "/1", f.err
}

func newTestIndexer(t *testing.T, embedder *fakeEmbedder, uploader *fakeUploader) (IndexerService, *vectorstore.LocalStore) {
	t.Helper()
	return newTestIndexerWithConfig(t, testIndexerConfig(), embedder, uploader)
}

func newTestIndexerWithConfig(t *testing.T, cfg config.IndexerConfig, embedder *fakeEmbedder, uploader *fakeUploader) (IndexerService, *vectorstore.LocalStore) {
	t.Helper()
	store := vectorstore.NewLocalStore(filepath.Join(t.TempDir(), "vectordb"), embedder.Model())
	var svc IndexerService
	var err error
	if uploader != nil {
		svc, err = NewIndexerService(cfg, embedder, 2, store, uploader, "demo")
	} else {
		svc, err = NewIndexerService(cfg, embedder, 2, store, nil, "demo")
	}
	require.NoError(t, err)
	return svc, store
}

func TestIndexBuildsStoreFromMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"pkg/a.py":            "def a():\n    return 1\n",
		"b.py":                "class B:\n    pass\n",
		"README.md":           "# readme",
		".git/hooks/x.py":     "print('hook')",
		"node_modules/dep.py": "print('dep')",
		"big.py":              strings.Repeat("x = 1\n", 300),
	})

	embedder := &fakeEmbedder{}
	uploader := &fakeUploader{}
	svc, store := newTestIndexer(t, embedder, uploader)

	res, err := svc.Index(context.Background(), &model.Checkout{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 1, embedder.calls)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := store.Search(context.Background(), embedder.vector("def a():\n    return 1"), 15)
	require.NoError(t, err)
	require.Len(t, results, 2)
	sources := []string{results[0].Source, results[1].Source}
	assert.ElementsMatch(t, []string{"b.py", "pkg/a.py"}, sources)

	assert.Equal(t, store.Files(), uploader.files)
}

func TestIndexChunkIDsAreSequentialPerFile(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("def f")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString("():\n    return '")
		b.WriteString(strings.Repeat("y", 40))
		b.WriteString("'\n\n")
	}
	writeTree(t, dir, map[string]string{"m.py": b.String()})

	// 文件超过默认测试配置的大小上限，这里取消上限
	cfg := testIndexerConfig()
	cfg.MaxFileSize = 0
	embedder := &fakeEmbedder{}
	svc, store := newTestIndexerWithConfig(t, cfg, embedder, nil)
	res, err := svc.Index(context.Background(), &model.Checkout{Dir: dir})
	require.NoError(t, err)
	require.Greater(t, res.Chunks, 1)

	results, err := store.Search(context.Background(), []float32{1, 1}, res.Chunks)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, r := range results {
		assert.Equal(t, "m.py", r.Source)
		assert.LessOrEqual(t, len([]rune(r.Content)), 1000)
		seen[r.ChunkIndex] = true
	}
	for i := 0; i < res.Chunks; i++ {
		assert.True(t, seen[i], "missing chunk index %d", i)
	}
}

func TestIndexWithoutDocumentsKeepsPublishedStore(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc, store := newTestIndexer(t, embedder, nil)

	good := t.TempDir()
	writeTree(t, good, map[string]string{"a.py": "def a():\n    return 1\n"})
	_, err := svc.Index(context.Background(), &model.Checkout{Dir: good})
	require.NoError(t, err)

	empty := t.TempDir()
	writeTree(t, empty, map[string]string{"README.md": "# nothing"})
	_, err = svc.Index(context.Background(), &model.Checkout{Dir: empty})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoDocuments)
	assert.ErrorIs(t, err, model.ErrIndexing)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexEmbeddingFailure(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.py": "def a():\n    return 1\n"})

	cause := errors.New("quota exceeded")
	svc, store := newTestIndexer(t, &fakeEmbedder{err: cause}, nil)
	_, err := svc.Index(context.Background(), &model.Checkout{Dir: dir})
	assert.ErrorIs(t, err, model.ErrIndexing)
	assert.ErrorIs(t, err, cause)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexSnapshotFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.py": "def a():\n    return 1\n"})

	svc, _ := newTestIndexer(t, &fakeEmbedder{}, &fakeUploader{err: errors.New("minio down")})
	res, err := svc.Index(context.Background(), &model.Checkout{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
}

func TestNewIndexerRejectsUnknownLanguage(t *testing.T) {
	cfg := testIndexerConfig()
	cfg.Language = "cobol"
	_, err := NewIndexerService(cfg, &fakeEmbedder{}, 2, &fakeStore{}, nil, "demo")
	assert.Error(t, err)
}
