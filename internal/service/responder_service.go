// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/internal/repository"
	"chatwithcode/pkg/embedding"
	"chatwithcode/pkg/events"
	"chatwithcode/pkg/llm"
	"chatwithcode/pkg/log"
	"chatwithcode/pkg/metrics"
	"chatwithcode/pkg/vectorstore"
)

// DefaultPromptTemplate 是内置的问答模板，{context}、{chat_history}、{question} 为占位符。
const DefaultPromptTemplate = `Use the following information from the context (separated with <ctx></ctx>) to answer the question.
If you don't know the answer, answer with "Unfortunately, I don't have the information." If you don't find enough information below, also answer with "Unfortunately, I don't have enough information."
------
<ctx>
{context}
</ctx>
------
<hs>
{chat_history}
</hs>
------
{question}
Helpful Answer:`

var errEmptyAnswer = errors.New("model returned an empty answer")

// ResponderService 检索相关分块并生成回答。
type ResponderService interface {
	// Respond 回答问题，writer 非 nil 时同时把生成的分块流式写入 writer。
	Respond(ctx context.Context, question string, writer llm.MessageWriter) (string, error)
}

// ResponderOptions 汇总 ResponderService 的可调参数。
type ResponderOptions struct {
	Workspace  string
	TopK       int
	Window     int
	Template   string
	Generation *llm.GenerationParams
}

type responderService struct {
	embeddingClient  embedding.Client
	store            vectorstore.Store
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	qaLogRepo        repository.QALogRepository
	publisher        events.Publisher
	opts             ResponderOptions
	now              func() time.Time
}

// NewResponderService 创建一个新的 ResponderService 实例。publisher 为 nil 时不发布事件。
func NewResponderService(
	embeddingClient embedding.Client,
	store vectorstore.Store,
	llmClient llm.Client,
	conversationRepo repository.ConversationRepository,
	qaLogRepo repository.QALogRepository,
	publisher events.Publisher,
	opts ResponderOptions,
) ResponderService {
	if opts.Template == "" {
		opts.Template = DefaultPromptTemplate
	}
	if publisher == nil {
		publisher = events.Nop()
	}
	return &responderService{
		embeddingClient:  embeddingClient,
		store:            store,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		qaLogRepo:        qaLogRepo,
		publisher:        publisher,
		opts:             opts,
		now:              time.Now,
	}
}

func (s *responderService) Respond(ctx context.Context, question string, writer llm.MessageWriter) (string, error) {
	// 1. 检索上下文
	results, err := s.retrieve(ctx, question)
	if err != nil {
		return "", err
	}

	// 2. 构建 prompt
	history, err := s.conversationRepo.GetHistory(ctx, s.opts.Workspace)
	if err != nil {
		log.Errorf("[Responder] 读取对话历史失败: %v", err)
		history = []model.ChatMessage{}
	}
	prompt := BuildPrompt(s.opts.Template, results, FormatHistory(history, s.opts.Window), question)

	// 3. 调用模型，同时收集完整回答
	collector := &llm.Collector{}
	if err := s.llmClient.StreamChat(ctx, prompt, s.opts.Generation, &teeWriter{collector: collector, next: writer}); err != nil {
		log.Errorf("[Responder] 调用模型失败: %v", err)
		return "", model.NewStageError(model.StageGeneration, "generate", err)
	}
	answer := strings.TrimSpace(collector.String())
	if answer == "" {
		log.Errorf("[Responder] 模型返回了空回答")
		return "", model.NewStageError(model.StageGeneration, "generate", errEmptyAnswer)
	}

	// 4. 记录问答日志
	record := model.NewQARecord(s.now(), question, answer)
	if err := s.qaLogRepo.Append(ctx, record); err != nil {
		log.Errorf("[Responder] 写入问答日志失败: %v", err)
		return "", model.NewStageError(model.StageGeneration, "record", err)
	}
	metrics.IncQARecords()

	// 5. 更新对话窗口，使用后台上下文，避免请求取消导致已生成的回答丢失
	if err := s.conversationRepo.AppendExchange(context.Background(), s.opts.Workspace, question, answer); err != nil {
		log.Errorf("[Responder] 保存对话历史失败: %v", err)
	}

	payload := events.QARecorded{Date: record.Date, Time: record.Time, Question: question, Answer: answer}
	if err := s.publisher.Publish(events.New(events.TypeQARecorded, s.opts.Workspace, payload)); err != nil {
		log.Warnf("[Responder] 发布问答事件失败: %v", err)
	}
	return answer, nil
}

func (s *responderService) retrieve(ctx context.Context, question string) ([]model.ScoredChunk, error) {
	vector, err := s.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		log.Errorf("[Responder] 问题向量化失败: %v", err)
		return nil, model.NewStageError(model.StageGeneration, "embed", err)
	}
	results, err := s.store.Search(ctx, vector, s.opts.TopK)
	if err != nil {
		if errors.Is(err, model.ErrEmptyStore) {
			log.Warnf("[Responder] 向量库为空, 请先处理一个仓库")
		} else {
			log.Errorf("[Responder] 检索失败: %v", err)
		}
		return nil, model.NewStageError(model.StageGeneration, "retrieve", err)
	}
	log.Infof("[Responder] 检索到 %d 个分块", len(results))
	return results, nil
}

// BuildPrompt 用检索结果、对话历史和问题填充模板。
func BuildPrompt(template string, results []model.ScoredChunk, history, question string) string {
	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	return strings.NewReplacer(
		"{context}", strings.Join(contents, "\n\n"),
		"{chat_history}", history,
		"{question}", question,
	).Replace(template)
}

// FormatHistory 把最近 window 轮对话格式化为 "Human: ..." / "AI: ..." 行。
func FormatHistory(history []model.ChatMessage, window int) string {
	if window > 0 && len(history) > window*2 {
		history = history[len(history)-window*2:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			lines = append(lines, "Human: "+m.Content)
		case "assistant":
			lines = append(lines, "AI: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// teeWriter 把分块同时写入收集器和可选的下游 writer。
type teeWriter struct {
	collector *llm.Collector
	next      llm.MessageWriter
}

func (w *teeWriter) WriteMessage(messageType int, data []byte) error {
	_ = w.collector.WriteMessage(messageType, data)
	if w.next == nil {
		return nil
	}
	return w.next.WriteMessage(messageType, data)
}
