package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatwithcode/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, captured *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatCollectsStream(t *testing.T) {
	var req chatRequest
	srv := sseServer(t, []string{"The answer ", "is 42."}, &req)
	client, err := NewClient(config.LLMConfig{
		Provider:   "openai",
		BaseURL:    srv.URL,
		Model:      "test-model",
		Generation: config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 256},
	})
	require.NoError(t, err)

	var collector Collector
	require.NoError(t, client.StreamChat(context.Background(), "what is it?", nil, &collector))
	assert.Equal(t, "The answer is 42.", collector.String())

	assert.True(t, req.Stream)
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, Message{Role: "user", Content: "what is it?"}, req.Messages[0])
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
	assert.Nil(t, req.TopP)
}

func TestStreamChatNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(config.LLMConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.StreamChat(context.Background(), "q", nil, &Collector{})
	assert.ErrorContains(t, err, "429")
}

func TestParamsFromConfig(t *testing.T) {
	assert.Nil(t, ParamsFromConfig(config.LLMGenerationConfig{}))

	gp := ParamsFromConfig(config.LLMGenerationConfig{TopP: 0.9})
	require.NotNil(t, gp)
	assert.Nil(t, gp.Temperature)
	assert.InDelta(t, 0.9, *gp.TopP, 1e-9)
}

func TestToGeminiRequest(t *testing.T) {
	temp, maxTokens := 0.5, 128
	contents, cfg := toGeminiRequest([]Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "question"},
	}, &GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "question", contents[2].Parts[0].Text)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "rules", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, float64(*cfg.Temperature), 1e-6)
	assert.EqualValues(t, 128, cfg.MaxOutputTokens)
}

func TestNewClientRequiresGeminiKey(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err)
	_, err = NewClient(config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
}
