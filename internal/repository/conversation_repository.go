package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatwithcode/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 维护每个工作区最近 N 轮问答的对话窗口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, workspace string) ([]model.ChatMessage, error)
	AppendExchange(ctx context.Context, workspace, question, answer string) error
	Clear(ctx context.Context, workspace string) error
}

func exchangeMessages(question, answer string) []model.ChatMessage {
	now := time.Now()
	return []model.ChatMessage{
		{Role: "user", Content: question, Timestamp: now},
		{Role: "assistant", Content: answer, Timestamp: now},
	}
}

// trimWindow 只保留最近 window 轮（每轮两条消息）。
func trimWindow(messages []model.ChatMessage, window int) []model.ChatMessage {
	if max := window * 2; window > 0 && len(messages) > max {
		return messages[len(messages)-max:]
	}
	return messages
}

type redisConversationRepository struct {
	redisClient *redis.Client
	window      int
	ttl         time.Duration
}

// NewRedisConversationRepository 创建基于 Redis 的对话窗口。
func NewRedisConversationRepository(redisClient *redis.Client, window int, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, window: window, ttl: ttl}
}

func conversationKey(workspace string) string {
	return fmt.Sprintf("chatwithcode:workspace:%s:conversation", workspace)
}

// GetHistory 从 Redis 获取对话历史记录。
func (r *redisConversationRepository) GetHistory(ctx context.Context, workspace string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(workspace)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendExchange 追加一轮问答并截断到窗口大小。
func (r *redisConversationRepository) AppendExchange(ctx context.Context, workspace, question, answer string) error {
	history, err := r.GetHistory(ctx, workspace)
	if err != nil {
		return err
	}
	history = trimWindow(append(history, exchangeMessages(question, answer)...), r.window)
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(workspace), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) Clear(ctx context.Context, workspace string) error {
	if err := r.redisClient.Del(ctx, conversationKey(workspace)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}

type memoryConversationRepository struct {
	mu       sync.Mutex
	window   int
	messages map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 创建进程内的对话窗口，重启后丢失。
func NewMemoryConversationRepository(window int) ConversationRepository {
	return &memoryConversationRepository{window: window, messages: make(map[string][]model.ChatMessage)}
}

func (r *memoryConversationRepository) GetHistory(_ context.Context, workspace string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChatMessage, len(r.messages[workspace]))
	copy(out, r.messages[workspace])
	return out, nil
}

func (r *memoryConversationRepository) AppendExchange(_ context.Context, workspace, question, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[workspace] = trimWindow(append(r.messages[workspace], exchangeMessages(question, answer)...), r.window)
	return nil
}

func (r *memoryConversationRepository) Clear(_ context.Context, workspace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, workspace)
	return nil
}
