package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatwithcode/internal/config"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

type geminiClient struct {
	cfg config.LLMConfig
}

func newGeminiClient(cfg config.LLMConfig) (*geminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini chat requires an api key")
	}
	return &geminiClient{cfg: cfg}, nil
}

func (c *geminiClient) StreamChat(ctx context.Context, prompt string, gen *GenerationParams, writer MessageWriter) error {
	return c.StreamChatMessages(ctx, []Message{{Role: "user", Content: prompt}}, gen, writer)
}

func (c *geminiClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}

	if gen == nil {
		gen = ParamsFromConfig(c.cfg.Generation)
	}
	contents, genCfg := toGeminiRequest(messages, gen)

	for resp, err := range client.Models.GenerateContentStream(ctx, c.cfg.Model, contents, genCfg) {
		if err != nil {
			return fmt.Errorf("gemini generate content: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if werr := writer.WriteMessage(websocket.TextMessage, []byte(text)); werr != nil {
			return fmt.Errorf("failed to write stream chunk: %w", werr)
		}
	}
	return nil
}

// toGeminiRequest 把通用消息转换为 genai 请求：system 消息进入 SystemInstruction，assistant 对应 model 角色。
func toGeminiRequest(messages []Message, gen *GenerationParams) ([]*genai.Content, *genai.GenerateContentConfig) {
	genCfg := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(messages))
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if gen != nil {
		if gen.Temperature != nil {
			t := float32(*gen.Temperature)
			genCfg.Temperature = &t
		}
		if gen.TopP != nil {
			p := float32(*gen.TopP)
			genCfg.TopP = &p
		}
		if gen.MaxTokens != nil {
			genCfg.MaxOutputTokens = int32(*gen.MaxTokens)
		}
	}
	return contents, genCfg
}
