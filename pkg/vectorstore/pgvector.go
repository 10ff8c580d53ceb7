package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/log"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,40}$`)

// PGVectorStore 把分块写入 Postgres 的 vector 列，构建表完成后在事务内替换正式表。
type PGVectorStore struct {
	db    *sql.DB
	table string
	model string
}

// NewPGVectorStore 创建 pgvector 向量库，table 只允许小写字母、数字与下划线。
func NewPGVectorStore(db *sql.DB, table, embeddingModel string) (*PGVectorStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	return &PGVectorStore{db: db, table: table, model: embeddingModel}, nil
}

func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

func createTableSQL(table string, dims int) string {
	return fmt.Sprintf(`CREATE TABLE %s (
	id BIGSERIAL PRIMARY KEY,
	chunk_id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	language TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	model TEXT NOT NULL,
	embedding vector(%d) NOT NULL
)`, pq.QuoteIdentifier(table), dims)
}

func searchSQL(table string) string {
	return fmt.Sprintf(`SELECT chunk_id, source, language, content_type, chunk_index, content,
	1 - (embedding <=> $1) AS score
FROM %s
ORDER BY embedding <=> $1
LIMIT $2`, pq.QuoteIdentifier(table))
}

func (s *PGVectorStore) Rebuild(ctx context.Context, chunks []model.EmbeddedChunk) error {
	dims, err := Dimensions(chunks)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}

	build := fmt.Sprintf("%s_build_%d", s.table, time.Now().UnixNano())
	if _, err := s.db.ExecContext(ctx, createTableSQL(build, dims)); err != nil {
		return fmt.Errorf("create build table: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_, _ = s.db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(build))
		}
	}()

	if err := s.insert(ctx, build, chunks); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(s.table)); err != nil {
		return fmt.Errorf("drop previous table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", pq.QuoteIdentifier(build), pq.QuoteIdentifier(s.table))); err != nil {
		return fmt.Errorf("rename build table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	published = true
	log.Infof("[PGVectorStore] 表 '%s' 已替换, chunks: %d, dims: %d", s.table, len(chunks), dims)
	return nil
}

func (s *PGVectorStore) insert(ctx context.Context, table string, chunks []model.EmbeddedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (chunk_id, source, language, content_type, chunk_index, content, model, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(table)))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Source, c.Language, c.ContentType, c.ChunkIndex, c.Content, s.model,
			pgvector.NewVector(c.Vector),
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PGVectorStore) exists(ctx context.Context) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, s.table).Scan(&ok); err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return ok, nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	ok, err := s.exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrEmptyStore
	}

	rows, err := s.db.QueryContext(ctx, searchSQL(s.table), pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.table, err)
	}
	defer rows.Close()

	var results []model.ScoredChunk
	for rows.Next() {
		var r model.ScoredChunk
		if err := rows.Scan(&r.ID, &r.Source, &r.Language, &r.ContentType, &r.ChunkIndex, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, model.ErrEmptyStore
	}
	return results, nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}
