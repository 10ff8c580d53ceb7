package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"
	"chatwithcode/pkg/codesplit"
	"chatwithcode/pkg/embedding"
	"chatwithcode/pkg/log"
	"chatwithcode/pkg/storage"
	"chatwithcode/pkg/vectorstore"
)

// IndexerService 把检出目录加载、切分、向量化并重建向量库。
type IndexerService interface {
	Index(ctx context.Context, checkout *model.Checkout) (*model.IndexResult, error)
}

type indexerService struct {
	cfg             config.IndexerConfig
	lang            *codesplit.Language
	segmenter       *codesplit.Segmenter
	splitter        *codesplit.Splitter
	embeddingClient embedding.Client
	batchSize       int
	store           vectorstore.Store
	snapshots       storage.SnapshotUploader
	workspace       string
}

// NewIndexerService 创建一个新的 IndexerService 实例。snapshots 可以为 nil。
func NewIndexerService(
	cfg config.IndexerConfig,
	embeddingClient embedding.Client,
	batchSize int,
	store vectorstore.Store,
	snapshots storage.SnapshotUploader,
	workspace string,
) (IndexerService, error) {
	lang, err := codesplit.LookupLanguage(cfg.Language)
	if err != nil {
		return nil, err
	}
	return &indexerService{
		cfg:             cfg,
		lang:            lang,
		segmenter:       codesplit.NewSegmenter(lang, cfg.ParserThreshold),
		splitter:        codesplit.NewSplitter(lang, cfg.ChunkSize, cfg.Overlap),
		embeddingClient: embeddingClient,
		batchSize:       batchSize,
		store:           store,
		snapshots:       snapshots,
		workspace:       workspace,
	}, nil
}

// Index 执行加载、分段、切分、向量化和原子发布。
func (s *indexerService) Index(ctx context.Context, checkout *model.Checkout) (*model.IndexResult, error) {
	start := time.Now()
	log.Infof("[Indexer] 开始构建索引, 目录: %s, 语言: %s", checkout.Dir, s.lang.Name)

	// 1. 加载源码文件
	files, err := s.listFiles(checkout.Dir)
	if err != nil {
		log.Errorf("[Indexer] 遍历检出目录失败: %v", err)
		return nil, model.NewStageError(model.StageIndexing, "load", err)
	}
	log.Infof("[Indexer] 步骤1: 匹配到 %d 个源码文件", len(files))

	// 2. 分段
	var docs []model.Document
	for _, rel := range files {
		fileDocs, err := s.loadDocuments(ctx, checkout.Dir, rel)
		if err != nil {
			log.Errorf("[Indexer] 加载文件失败: %s, err: %v", rel, err)
			return nil, model.NewStageError(model.StageIndexing, "load", err)
		}
		docs = append(docs, fileDocs...)
	}
	log.Infof("[Indexer] 步骤2: 分段完成, 共 %d 个文档", len(docs))

	// 3. 切分
	chunks := s.splitDocuments(docs)
	log.Infof("[Indexer] 步骤3: 切分完成, chunkSize: %d, overlap: %d, 共 %d 个分块", s.cfg.ChunkSize, s.cfg.Overlap, len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[Indexer] 未生成任何分块, 保留已发布的向量库")
		return nil, model.NewStageError(model.StageIndexing, "split", model.ErrNoDocuments)
	}

	// 4. 向量化
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedding.EmbedAll(ctx, s.embeddingClient, texts, s.batchSize)
	if err != nil {
		log.Errorf("[Indexer] 向量化失败: %v", err)
		return nil, model.NewStageError(model.StageIndexing, "embed", err)
	}
	embedded := make([]model.EmbeddedChunk, len(chunks))
	for i := range chunks {
		embedded[i] = model.EmbeddedChunk{Chunk: chunks[i], Vector: vectors[i]}
	}
	log.Infof("[Indexer] 步骤4: 向量化完成, 模型: %s", s.embeddingClient.Model())

	// 5. 重建并原子发布
	if err := s.store.Rebuild(ctx, embedded); err != nil {
		log.Errorf("[Indexer] 重建向量库失败: %v", err)
		return nil, model.NewStageError(model.StageIndexing, "store", err)
	}
	log.Infof("[Indexer] 步骤5: 向量库已发布, 分块数: %d", len(embedded))

	s.uploadSnapshot(ctx)

	return &model.IndexResult{
		Files:     len(files),
		Documents: len(docs),
		Chunks:    len(embedded),
		Duration:  time.Since(start),
	}, nil
}

// listFiles 返回检出目录下按字典序排列的、匹配语言后缀的相对路径。
func (s *indexerService) listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" || s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.excluded(rel) || !s.lang.MatchSuffix(rel, s.cfg.Suffixes) {
			return nil
		}
		if s.cfg.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() > s.cfg.MaxFileSize {
				log.Debugf("[Indexer] 跳过过大的文件: %s (%d 字节)", rel, info.Size())
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// excluded 判断路径本身或任一路径段是否匹配排除模式。
// "**/x/**" 形式的模式按路径段 x 处理。
func (s *indexerService) excluded(rel string) bool {
	for _, pattern := range s.cfg.ExcludeGlobs {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

func (s *indexerService) loadDocuments(ctx context.Context, root, rel string) ([]model.Document, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	segments, err := s.segmenter.Segment(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", rel, err)
	}
	docs := make([]model.Document, 0, len(segments))
	for _, seg := range segments {
		docs = append(docs, model.Document{
			Source:      rel,
			Language:    s.lang.Name,
			ContentType: seg.ContentType,
			Content:     seg.Content,
		})
	}
	return docs, nil
}

// splitDocuments 切分所有文档，分块序号在同一来源文件内连续递增。
func (s *indexerService) splitDocuments(docs []model.Document) []model.Chunk {
	var chunks []model.Chunk
	next := make(map[string]int)
	for _, doc := range docs {
		for _, text := range s.splitter.Split(doc.Content) {
			idx := next[doc.Source]
			next[doc.Source] = idx + 1
			chunks = append(chunks, model.Chunk{
				ID:          fmt.Sprintf("%s#%d", doc.Source, idx),
				Source:      doc.Source,
				Language:    doc.Language,
				ContentType: doc.ContentType,
				ChunkIndex:  idx,
				Content:     text,
			})
		}
	}
	return chunks
}

// uploadSnapshot 在启用对象存储时上传本地向量库文件，失败只记录日志。
func (s *indexerService) uploadSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	fb, ok := s.store.(vectorstore.FileBacked)
	if !ok {
		return
	}
	prefix, err := s.snapshots.UploadSnapshot(ctx, s.workspace, fb.Files())
	if err != nil {
		log.Warnf("[Indexer] 上传向量库快照失败: %v", err)
		return
	}
	log.Infof("[Indexer] 向量库快照已上传: %s", prefix)
}
