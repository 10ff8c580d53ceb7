package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"chatwithcode/internal/config"
	"chatwithcode/pkg/database"
	"chatwithcode/pkg/es"
)

// New 按 vector_store.backend 创建向量库，索引名与表名都带上工作区名。
func New(ctx context.Context, cfg config.Config, embeddingModel string) (Store, error) {
	workspace := identifierSafe(cfg.Workspace.Name)
	switch cfg.VectorStore.Backend {
	case "", "local":
		return NewLocalStore(cfg.Paths().VectorStore, embeddingModel), nil
	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		alias := strings.ToLower(cfg.Elasticsearch.IndexName + "-" + workspace)
		return NewElasticsearchStore(client, alias, embeddingModel), nil
	case "pgvector":
		db, err := database.OpenPostgres(ctx, cfg.VectorStore.PGVector.DSN)
		if err != nil {
			return nil, err
		}
		store, err := NewPGVectorStore(db, strings.ToLower(cfg.VectorStore.PGVector.Table+"_"+workspace), embeddingModel)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
}

// identifierSafe 把工作区名转换为可用于索引名和表名的形式。
func identifierSafe(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
