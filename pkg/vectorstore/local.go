package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/database"
	"chatwithcode/pkg/log"

	"gorm.io/gorm"
)

const localDBFile = "chunks.db"

// LocalStore 把索引保存在目录下的 sqlite 文件中，检索时全量计算余弦相似度。
type LocalStore struct {
	dir   string
	model string
	// 保护目录替换，避免同进程内检索读到替换中的目录
	mu sync.RWMutex
}

// NewLocalStore 创建本地向量库，dir 为已发布索引所在目录。
func NewLocalStore(dir, embeddingModel string) *LocalStore {
	return &LocalStore{dir: dir, model: embeddingModel}
}

// Files 返回已发布的 sqlite 文件。
func (s *LocalStore) Files() []string {
	return []string{filepath.Join(s.dir, localDBFile)}
}

func (s *LocalStore) Close() error {
	return nil
}

// Rebuild 在 <dir>.building-* 中构建新库，然后替换 dir。
func (s *LocalStore) Rebuild(ctx context.Context, chunks []model.EmbeddedChunk) error {
	dims, err := Dimensions(chunks)
	if err != nil {
		return err
	}

	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, os.ModePerm); err != nil {
		return fmt.Errorf("create vector store parent: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(s.dir)+".building-*")
	if err != nil {
		return fmt.Errorf("create vector store build dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := s.write(ctx, filepath.Join(tmp, localDBFile), chunks, dims); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.publish(tmp); err != nil {
		return err
	}
	published = true
	log.Infof("[LocalStore] 向量库已发布: %s, chunks: %d, dims: %d", s.dir, len(chunks), dims)
	return nil
}

func (s *LocalStore) write(ctx context.Context, path string, chunks []model.EmbeddedChunk, dims int) error {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer func() { _ = database.CloseGorm(db) }()

	if err := db.AutoMigrate(&model.ChunkVector{}, &model.StoreMeta{}); err != nil {
		return fmt.Errorf("migrate vector store: %w", err)
	}

	rows := make([]model.ChunkVector, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, model.ChunkVector{
			ChunkID:     c.ID,
			Source:      c.Source,
			Language:    c.Language,
			ContentType: c.ContentType,
			ChunkIndex:  c.ChunkIndex,
			Content:     c.Content,
			Vector:      FloatsToBytes(c.Vector),
		})
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		meta := model.StoreMeta{Model: s.model, Dimensions: dims, Chunks: len(rows), BuiltAt: time.Now()}
		if err := tx.Create(&meta).Error; err != nil {
			return fmt.Errorf("insert store meta: %w", err)
		}
		return nil
	})
}

// publish 把构建目录换到 dir，旧目录先移开，失败时尝试还原。
func (s *LocalStore) publish(tmp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := ""
	if _, err := os.Stat(s.dir); err == nil {
		old = fmt.Sprintf("%s.old-%d", s.dir, time.Now().UnixNano())
		if err := os.Rename(s.dir, old); err != nil {
			return fmt.Errorf("move previous vector store aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat vector store: %w", err)
	}

	if err := os.Rename(tmp, s.dir); err != nil {
		if old != "" {
			_ = os.Rename(old, s.dir)
		}
		return fmt.Errorf("publish vector store: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warnf("[LocalStore] 删除旧向量库失败: %s, err: %v", old, err)
		}
	}
	return nil
}

func (s *LocalStore) open() (*gorm.DB, error) {
	path := filepath.Join(s.dir, localDBFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrEmptyStore
		}
		return nil, err
	}
	return database.OpenSQLite(path)
}

// Search 读取全部向量并按余弦相似度排序。
func (s *LocalStore) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = database.CloseGorm(db) }()

	var meta model.StoreMeta
	if err := db.WithContext(ctx).Order("id desc").First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrEmptyStore
		}
		return nil, fmt.Errorf("read store meta: %w", err)
	}
	if meta.Dimensions != len(vector) {
		return nil, fmt.Errorf("query vector has %d dimensions, store built with %d (model %s)", len(vector), meta.Dimensions, meta.Model)
	}

	var rows []model.ChunkVector
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(rows) == 0 {
		return nil, model.ErrEmptyStore
	}

	results := make([]model.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		results = append(results, model.ScoredChunk{
			Chunk: model.Chunk{
				ID:          r.ChunkID,
				Source:      r.Source,
				Language:    r.Language,
				ContentType: r.ContentType,
				ChunkIndex:  r.ChunkIndex,
				Content:     r.Content,
			},
			Score: Cosine(vector, BytesToFloats(r.Vector)),
		})
	}
	return TopK(results, k), nil
}

func (s *LocalStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.open()
	if errors.Is(err, model.ErrEmptyStore) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = database.CloseGorm(db) }()

	var n int64
	if err := db.WithContext(ctx).Model(&model.ChunkVector{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(n), nil
}
