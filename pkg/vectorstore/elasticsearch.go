package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/es"
	"chatwithcode/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchStore 每次构建写入一个带时间戳的新索引，再通过别名切换发布。
// alias 不能与已存在的普通索引同名。
type ElasticsearchStore struct {
	client *elasticsearch.Client
	alias  string
	model  string
}

// NewElasticsearchStore 创建以 alias 为检索入口的向量库。
func NewElasticsearchStore(client *elasticsearch.Client, alias, embeddingModel string) *ElasticsearchStore {
	return &ElasticsearchStore{client: client, alias: alias, model: embeddingModel}
}

func (s *ElasticsearchStore) Close() error {
	return nil
}

func (s *ElasticsearchStore) Rebuild(ctx context.Context, chunks []model.EmbeddedChunk) error {
	dims, err := Dimensions(chunks)
	if err != nil {
		return err
	}
	index := fmt.Sprintf("%s-%d", s.alias, time.Now().UnixNano())
	if err := es.CreateIndex(ctx, s.client, index, dims); err != nil {
		return err
	}

	published := false
	defer func() {
		if !published {
			// 使用独立上下文，原上下文可能已取消
			if err := es.DeleteIndices(context.Background(), s.client, index); err != nil {
				log.Warnf("[ElasticsearchStore] 清理未发布索引失败: %s, err: %v", index, err)
			}
		}
	}()

	docs := make([]model.EsDocument, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, model.NewEsDocument(c, s.model))
	}
	if err := es.BulkIndex(ctx, s.client, index, docs, 500); err != nil {
		return err
	}
	if err := es.Refresh(ctx, s.client, index); err != nil {
		return err
	}

	replaced, err := es.SwapAlias(ctx, s.client, s.alias, index)
	if err != nil {
		return err
	}
	published = true
	if err := es.DeleteIndices(ctx, s.client, replaced...); err != nil {
		log.Warnf("[ElasticsearchStore] 删除旧索引失败: %v, err: %v", replaced, err)
	}
	log.Infof("[ElasticsearchStore] 别名 '%s' 已切换到索引 '%s', chunks: %d", s.alias, index, len(docs))
	return nil
}

func (s *ElasticsearchStore) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	results, err := es.KNNSearch(ctx, s.client, s.alias, vector, k)
	if errors.Is(err, es.ErrNotFound) {
		return nil, model.ErrEmptyStore
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, model.ErrEmptyStore
	}
	return TopK(results, k), nil
}

func (s *ElasticsearchStore) Count(ctx context.Context) (int, error) {
	n, err := es.Count(ctx, s.client, s.alias)
	if errors.Is(err, es.ErrNotFound) {
		return 0, nil
	}
	return n, err
}
