package model

// ScoredChunk 是检索结果，Score 为余弦相似度，越大越相关。
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// EsDocument 定义了存储在 Elasticsearch 中的分块文档结构。
type EsDocument struct {
	ChunkID      string    `json:"chunk_id"`
	Source       string    `json:"source"`
	Language     string    `json:"language"`
	ContentType  string    `json:"content_type,omitempty"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// NewEsDocument 把带向量的分块转换为 ES 文档。
func NewEsDocument(c EmbeddedChunk, modelVersion string) EsDocument {
	return EsDocument{
		ChunkID:      c.ID,
		Source:       c.Source,
		Language:     c.Language,
		ContentType:  c.ContentType,
		ChunkIndex:   c.ChunkIndex,
		TextContent:  c.Content,
		Vector:       c.Vector,
		ModelVersion: modelVersion,
	}
}

// ToChunk 还原为领域分块。
func (d EsDocument) ToChunk() Chunk {
	return Chunk{
		ID:          d.ChunkID,
		Source:      d.Source,
		Language:    d.Language,
		ContentType: d.ContentType,
		ChunkIndex:  d.ChunkIndex,
		Content:     d.TextContent,
	}
}
