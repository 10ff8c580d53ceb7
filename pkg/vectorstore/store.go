// Package vectorstore 提供可整体重建的向量库：本地 sqlite、Elasticsearch 与 pgvector。
// 每次 Rebuild 都在临时位置构建新索引，完成后原子替换已发布的索引。
package vectorstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"chatwithcode/internal/model"
)

// Store 是检索器与索引器共用的向量库接口。
type Store interface {
	// Rebuild 用 chunks 完整替换当前索引，失败时保留旧索引。
	Rebuild(ctx context.Context, chunks []model.EmbeddedChunk) error
	// Search 返回与 vector 余弦相似度最高的 k 个分块，库为空时返回 model.ErrEmptyStore。
	Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// FileBacked 由落盘的后端实现，返回已发布索引的文件列表，用于快照上传。
type FileBacked interface {
	Files() []string
}

// FloatsToBytes 以小端序编码向量。
func FloatsToBytes(v []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// BytesToFloats 解码 FloatsToBytes 的输出。
func BytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	_ = binary.Read(bytes.NewReader(b[:len(out)*4]), binary.LittleEndian, &out)
	return out
}

// Cosine 计算余弦相似度，任一向量为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK 按分数降序保留前 k 个结果，分数相同按来源与块序号排序。
func TopK(results []model.ScoredChunk, k int) []model.ScoredChunk {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Dimensions 校验所有向量维度一致且非空，返回该维度。
func Dimensions(chunks []model.EmbeddedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, model.ErrNoDocuments
	}
	dims := len(chunks[0].Vector)
	if dims == 0 {
		return 0, fmt.Errorf("chunk %s has an empty vector", chunks[0].ID)
	}
	for _, c := range chunks[1:] {
		if len(c.Vector) != dims {
			return 0, fmt.Errorf("chunk %s has %d dimensions, expected %d", c.ID, len(c.Vector), dims)
		}
	}
	return dims, nil
}
