package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"
	"chatwithcode/internal/repository"
	"chatwithcode/internal/service"
	"chatwithcode/pkg/events"
	"chatwithcode/pkg/gitrepo"
	"chatwithcode/pkg/llm"
	"chatwithcode/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hashEmbedder struct{}

func (hashEmbedder) vector(text string) []float32 {
	return []float32{float32(strings.Count(text, "def") + 1), float32(len(text)%5 + 1)}
}

func (e hashEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e hashEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (hashEmbedder) Model() string { return "hash" }

type echoChat struct {
	prompts []string
}

func (c *echoChat) StreamChatMessages(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams, w llm.MessageWriter) error {
	return c.StreamChat(ctx, msgs[len(msgs)-1].Content, gen, w)
}

func (c *echoChat) StreamChat(_ context.Context, prompt string, _ *llm.GenerationParams, w llm.MessageWriter) error {
	c.prompts = append(c.prompts, prompt)
	return w.WriteMessage(1, []byte("It greets the user."))
}

func gitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	for _, args := range [][]string{{"init", "--quiet"}, {"add", "."}, {"commit", "--quiet", "-m", "init"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return dir
}

func TestProcessThenPredictEndToEnd(t *testing.T) {
	repoDir := gitRepo(t, map[string]string{
		"hello.py":      "def hello(name):\n    return 'hello ' + name\n",
		"pkg/util.py":   "def add(a, b):\n    return a + b\n",
		"docs/notes.md": "# notes",
	})

	ws := t.TempDir()
	cfg := config.Config{
		Workspace:   config.WorkspaceConfig{Root: ws, Name: "demo"},
		Ingestion:   config.IngestionConfig{CheckoutDir: "github", CloneDepth: 1, AllowFileURLs: true},
		VectorStore: config.VectorStoreConfig{Dir: "vectordb"},
		QALog:       config.QALogConfig{JSONFile: "qa_log.json"},
	}
	paths := cfg.Paths()

	embedder := hashEmbedder{}
	store := vectorstore.NewLocalStore(paths.VectorStore, embedder.Model())
	indexer, err := service.NewIndexerService(config.IndexerConfig{
		Language: "python", ParserThreshold: 500, ChunkSize: 1000, Overlap: 100,
	}, embedder, 8, store, nil, "demo")
	require.NoError(t, err)

	memory := repository.NewMemoryConversationRepository(3)
	qaLog := repository.NewJSONQALogRepository(paths.QALog)
	chat := &echoChat{}
	publisher := &events.Recorder{}
	responder := service.NewResponderService(embedder, store, chat, memory, qaLog, publisher, service.ResponderOptions{
		Workspace: "demo", TopK: 15, Window: 3,
	})
	ingestion := service.NewIngestionService(gitrepo.NewCloner("git", 1, true), paths.Checkout, time.Minute)
	orch := NewOrchestrator(ingestion, indexer, responder, memory, repository.NewMemoryWorkspaceLock(), publisher, "demo")

	ctx := context.Background()

	_, err = orch.Predict(ctx, "What does hello do?")
	assert.ErrorIs(t, err, model.ErrEmptyStore)

	res, err := orch.Process(ctx, "file://"+repoDir)
	require.NoError(t, err)
	assert.Equal(t, SuccessMessage, res.Message)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Chunks)
	assert.FileExists(t, filepath.Join(paths.Checkout, "hello.py"))

	answer, err := orch.Predict(ctx, "What does hello do?")
	require.NoError(t, err)
	assert.Equal(t, "It greets the user.", answer)
	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "def hello(name):")
	assert.Contains(t, chat.prompts[0], "def add(a, b):")

	records, err := qaLog.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "What does hello do?", records[0].Question)

	// 重新处理会清空对话窗口，并且向量库只包含新检出的内容
	_, err = orch.Process(ctx, "file://"+repoDir)
	require.NoError(t, err)
	history, err := memory.GetHistory(ctx, "demo")
	require.NoError(t, err)
	assert.Empty(t, history)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{events.TypeIndexCompleted, events.TypeQARecorded, events.TypeIndexCompleted}, publisher.Types())
}
