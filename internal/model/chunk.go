package model

import "time"

// 文档内容类型，与语言分段器的输出对应。
const (
	ContentTypeFunctionsClasses = "functions_classes"
	ContentTypeSimplifiedCode   = "simplified_code"
)

// Checkout 表示一次成功的仓库克隆。
type Checkout struct {
	URL      string    `json:"url"`
	Dir      string    `json:"dir"`
	ClonedAt time.Time `json:"clonedAt"`
}

// Document 是加载阶段产出的源码文档，大文件可能被分段成多个 Document。
type Document struct {
	Source      string `json:"source"` // 相对检出目录的路径
	Language    string `json:"language"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
}

// Chunk 是切分后的文本块，携带来源元数据。
type Chunk struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Language    string `json:"language"`
	ContentType string `json:"contentType,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	Content     string `json:"content"`
}

// EmbeddedChunk 是带向量的分块，作为向量库重建的输入。
type EmbeddedChunk struct {
	Chunk
	Vector []float32 `json:"-"`
}

// IndexResult 汇总一次索引构建。
type IndexResult struct {
	Files     int           `json:"files"`
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Duration  time.Duration `json:"duration"`
}

// ProcessResult 是 process 操作的显式结果。
type ProcessResult struct {
	Message  string        `json:"message"`
	URL      string        `json:"url"`
	Files    int           `json:"files"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}
