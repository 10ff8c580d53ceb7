// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"
	"chatwithcode/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ErrNotFound 表示索引或别名不存在。
var ErrNotFound = errors.New("elasticsearch index or alias not found")

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// IndexMapping 返回分块索引的 mapping，向量字段使用 cosine 相似度。
func IndexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"source": { "type": "keyword" },
				"language": { "type": "keyword" },
				"content_type": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// CreateIndex 创建一个新的分块索引。
func CreateIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(IndexMapping(dims))),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return fmt.Errorf("create index %s: %s", indexName, res.Status())
	}
	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkBody 生成 _bulk 请求的 NDJSON 请求体。
func BulkBody(indexName string, docs []model.EsDocument) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_index": indexName, "_id": doc.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex 分批把文档写入索引，任一文档失败即返回错误。
func BulkIndex(ctx context.Context, client *elasticsearch.Client, indexName string, docs []model.EsDocument, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		body, err := BulkBody(indexName, docs[start:end])
		if err != nil {
			return fmt.Errorf("encode bulk body: %w", err)
		}
		req := esapi.BulkRequest{Body: body}
		res, err := req.Do(ctx, client)
		if err != nil {
			return err
		}
		var parsed bulkResponse
		decodeErr := json.NewDecoder(res.Body).Decode(&parsed)
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("bulk index into %s: %s", indexName, res.Status())
		}
		if decodeErr != nil {
			return fmt.Errorf("decode bulk response: %w", decodeErr)
		}
		if parsed.Errors {
			for _, item := range parsed.Items {
				for _, result := range item {
					if result.Error != nil {
						log.Errorf("索引文档到 Elasticsearch 出错: %s %s", result.Error.Type, result.Error.Reason)
						return fmt.Errorf("bulk index failed: %s: %s", result.Error.Type, result.Error.Reason)
					}
				}
			}
			return errors.New("bulk index failed")
		}
	}
	return nil
}

// Refresh 刷新索引使写入可见。
func Refresh(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Refresh(
		client.Indices.Refresh.WithIndex(indexName),
		client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh %s: %s", indexName, res.Status())
	}
	return nil
}

// AliasTargets 返回别名当前指向的索引，别名不存在时返回空列表。
func AliasTargets(ctx context.Context, client *elasticsearch.Client, alias string) ([]string, error) {
	res, err := client.Indices.GetAlias(
		client.Indices.GetAlias.WithName(alias),
		client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get alias %s: %s", alias, res.Status())
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode alias response: %w", err)
	}
	indices := make([]string, 0, len(body))
	for index := range body {
		indices = append(indices, index)
	}
	return indices, nil
}

// AliasActions 生成一次 _aliases 请求：挂上新索引并摘掉所有旧索引。
func AliasActions(alias, newIndex string, oldIndices []string) map[string]interface{} {
	actions := []map[string]interface{}{
		{"add": map[string]string{"index": newIndex, "alias": alias}},
	}
	for _, old := range oldIndices {
		if old == newIndex {
			continue
		}
		actions = append(actions, map[string]interface{}{
			"remove": map[string]string{"index": old, "alias": alias},
		})
	}
	return map[string]interface{}{"actions": actions}
}

// SwapAlias 原子地把别名切到 newIndex，返回被摘下的旧索引。
func SwapAlias(ctx context.Context, client *elasticsearch.Client, alias, newIndex string) ([]string, error) {
	old, err := AliasTargets(ctx, client, alias)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(AliasActions(alias, newIndex, old))
	if err != nil {
		return nil, err
	}
	res, err := client.Indices.UpdateAliases(bytes.NewReader(payload), client.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("update alias %s: %s", alias, res.String())
	}
	var replaced []string
	for _, o := range old {
		if o != newIndex {
			replaced = append(replaced, o)
		}
	}
	return replaced, nil
}

// DeleteIndices 删除给定索引，忽略不存在的索引。
func DeleteIndices(ctx context.Context, client *elasticsearch.Client, indices ...string) error {
	if len(indices) == 0 {
		return nil
	}
	res, err := client.Indices.Delete(indices,
		client.Indices.Delete.WithIgnoreUnavailable(true),
		client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete indices %v: %s", indices, res.Status())
	}
	return nil
}

// KNNQuery 构建 kNN 检索请求体，返回结果不携带向量字段。
func KNNQuery(vector []float32, k int) map[string]interface{} {
	candidates := k * 10
	if candidates < 100 {
		candidates = 100
	}
	return map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": candidates,
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64          `json:"_score"`
			Source model.EsDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ParseSearchResponse 解析检索结果。ES 的 cosine 得分为 (1+cos)/2，这里还原为余弦值。
func ParseSearchResponse(r io.Reader) ([]model.ScoredChunk, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	results := make([]model.ScoredChunk, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		results = append(results, model.ScoredChunk{
			Chunk: hit.Source.ToChunk(),
			Score: 2*hit.Score - 1,
		})
	}
	return results, nil
}

// KNNSearch 在索引或别名上执行 kNN 检索。
func KNNSearch(ctx context.Context, client *elasticsearch.Client, indexName string, vector []float32, k int) ([]model.ScoredChunk, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(KNNQuery(vector, k)); err != nil {
		return nil, fmt.Errorf("encode knn query: %w", err)
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", indexName, res.String())
	}
	return ParseSearchResponse(res.Body)
}

// Count 返回索引或别名下的文档数，不存在时返回 ErrNotFound。
func Count(ctx context.Context, client *elasticsearch.Client, indexName string) (int, error) {
	res, err := client.Count(
		client.Count.WithContext(ctx),
		client.Count.WithIndex(indexName),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if res.IsError() {
		return 0, fmt.Errorf("count %s: %s", indexName, res.Status())
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return body.Count, nil
}
