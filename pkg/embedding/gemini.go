package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatwithcode/internal/config"

	"google.golang.org/genai"
)

type geminiClient struct {
	cfg config.EmbeddingConfig
}

func newGeminiClient(cfg config.EmbeddingConfig) (*geminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini embedding requires an api key")
	}
	return &geminiClient{cfg: cfg}, nil
}

func (c *geminiClient) Model() string {
	return c.cfg.Model
}

func (c *geminiClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *geminiClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	var embedCfg *genai.EmbedContentConfig
	if c.cfg.Dimensions > 0 {
		dims := int32(c.cfg.Dimensions)
		embedCfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := client.Models.EmbedContent(ctx, c.cfg.Model, contents, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding for input %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}
