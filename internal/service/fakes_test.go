package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/llm"

	"github.com/stretchr/testify/require"
)

// fakeEmbedder 按文本长度生成确定性的二维向量。
type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) vector(text string) []float32 {
	return []float32{float32(len(text)%7 + 1), 1}
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedding" }

// fakeChatModel 把预设的分块依次写入 writer，并记录收到的 prompt。
type fakeChatModel struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	prompts []string
}

func (f *fakeChatModel) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
	}
	return f.StreamChat(ctx, b.String(), gen, writer)
}

func (f *fakeChatModel) StreamChat(_ context.Context, prompt string, _ *llm.GenerationParams, writer llm.MessageWriter) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := writer.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChatModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeStore 返回预设的检索结果。
type fakeStore struct {
	results []model.ScoredChunk
	err     error
	k       int
}

func (f *fakeStore) Rebuild(context.Context, []model.EmbeddedChunk) error {
	return errors.New("not supported")
}

func (f *fakeStore) Search(_ context.Context, _ []float32, k int) ([]model.ScoredChunk, error) {
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeStore) Count(context.Context) (int, error) { return len(f.results), nil }

func (f *fakeStore) Close() error { return nil }

type recordingWriter struct {
	chunks []string
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

// writeTree 按 相对路径 -> 内容 写入文件。
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}
