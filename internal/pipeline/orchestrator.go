// Package pipeline 串联克隆、索引与问答流程。
package pipeline

import (
	"context"
	"strings"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/internal/repository"
	"chatwithcode/internal/service"
	"chatwithcode/pkg/events"
	"chatwithcode/pkg/llm"
	"chatwithcode/pkg/log"
	"chatwithcode/pkg/metrics"
)

// SuccessMessage 是 process 成功后返回给调用方的提示。
const SuccessMessage = "Successfully !!!"

// Orchestrator 封装了 process 与 predict 两个入口。
type Orchestrator struct {
	ingestion service.IngestionService
	indexer   service.IndexerService
	responder service.ResponderService
	memory    repository.ConversationRepository
	lock      repository.WorkspaceLock
	publisher events.Publisher
	workspace string
}

// NewOrchestrator 创建一个新的 Orchestrator 实例。publisher 为 nil 时不发布事件。
func NewOrchestrator(
	ingestion service.IngestionService,
	indexer service.IndexerService,
	responder service.ResponderService,
	memory repository.ConversationRepository,
	lock repository.WorkspaceLock,
	publisher events.Publisher,
	workspace string,
) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop()
	}
	return &Orchestrator{
		ingestion: ingestion,
		indexer:   indexer,
		responder: responder,
		memory:    memory,
		lock:      lock,
		publisher: publisher,
		workspace: workspace,
	}
}

// Process 克隆仓库并重建索引。同一工作区同时只允许一个 Process，冲突时返回 model.ErrBusy。
func (o *Orchestrator) Process(ctx context.Context, url string) (*model.ProcessResult, error) {
	release, err := o.lock.Acquire(ctx, o.workspace)
	if err != nil {
		log.Warnf("[Orchestrator] 工作区 %s 获取锁失败: %v", o.workspace, err)
		return nil, err
	}
	defer release()

	start := time.Now()
	log.Infof("[Orchestrator] 开始处理仓库, 工作区: %s", o.workspace)

	stageStart := time.Now()
	checkout, err := o.ingestion.Ingest(ctx, url)
	metrics.ObserveStage(string(model.StageIngestion), time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}

	stageStart = time.Now()
	indexed, err := o.indexer.Index(ctx, checkout)
	metrics.ObserveStage(string(model.StageIndexing), time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	metrics.SetIndexedChunks(indexed.Chunks)

	// 新仓库的问答不应引用旧仓库的对话
	if err := o.memory.Clear(ctx, o.workspace); err != nil {
		log.Warnf("[Orchestrator] 清空对话历史失败: %v", err)
	}

	result := &model.ProcessResult{
		Message:  SuccessMessage,
		URL:      checkout.URL,
		Files:    indexed.Files,
		Chunks:   indexed.Chunks,
		Duration: time.Since(start),
	}
	payload := events.IndexCompleted{
		URL:        result.URL,
		Files:      result.Files,
		Chunks:     result.Chunks,
		DurationMS: result.Duration.Milliseconds(),
	}
	if err := o.publisher.Publish(events.New(events.TypeIndexCompleted, o.workspace, payload)); err != nil {
		log.Warnf("[Orchestrator] 发布索引完成事件失败: %v", err)
	}
	log.Infof("[Orchestrator] 仓库处理完成, 文件: %d, 分块: %d, 耗时: %s", result.Files, result.Chunks, result.Duration)
	return result, nil
}

// Predict 回答一个问题。
func (o *Orchestrator) Predict(ctx context.Context, question string) (string, error) {
	return o.Stream(ctx, question, nil)
}

// Stream 回答一个问题，并把生成的分块流式写入 writer。
func (o *Orchestrator) Stream(ctx context.Context, question string, writer llm.MessageWriter) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", model.ErrEmptyQuestion
	}
	start := time.Now()
	answer, err := o.responder.Respond(ctx, question, writer)
	metrics.ObserveStage(string(model.StageGeneration), time.Since(start), err)
	return answer, err
}
