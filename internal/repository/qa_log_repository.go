// Package repository 提供了数据访问层的实现。
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chatwithcode/internal/model"
)

// QALogRepository 只追加的问答日志。
type QALogRepository interface {
	Append(ctx context.Context, record model.QARecord) error
	List(ctx context.Context) ([]model.QARecord, error)
}

// jsonQALogRepository 把问答记录保存在一个 JSON 数组文件中。
// 每次追加都读取整个数组、追加后经临时文件替换写回；同进程内的写入由互斥锁串行化。
type jsonQALogRepository struct {
	path string
	mu   sync.Mutex
}

// NewJSONQALogRepository 创建基于 JSON 文件的问答日志，文件不存在时在首次追加时创建。
func NewJSONQALogRepository(path string) QALogRepository {
	return &jsonQALogRepository{path: path}
}

func (r *jsonQALogRepository) Append(ctx context.Context, record model.QARecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal qa log: %w", err)
	}
	return writeFileAtomic(r.path, data)
}

func (r *jsonQALogRepository) List(ctx context.Context) ([]model.QARecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

// read 读取现有记录。文件不存在或为空视为空日志，不是 JSON 数组时返回 ErrMalformedLog。
func (r *jsonQALogRepository) read() ([]model.QARecord, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.QARecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read qa log: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []model.QARecord{}, nil
	}
	if data[0] != '[' {
		return nil, fmt.Errorf("%w: %s", model.ErrMalformedLog, r.path)
	}
	var records []model.QARecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrMalformedLog, r.path, err)
	}
	return records, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create qa log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create qa log temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write qa log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync qa log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close qa log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace qa log: %w", err)
	}
	return nil
}
