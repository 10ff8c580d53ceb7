package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/gitrepo"
	"chatwithcode/pkg/log"
)

// IngestionService 负责把远端仓库克隆到工作区的检出目录。
type IngestionService interface {
	Ingest(ctx context.Context, url string) (*model.Checkout, error)
}

// Cloner 校验仓库地址并执行一次浅克隆。
type Cloner interface {
	Validate(url string) error
	Clone(ctx context.Context, url, dest string) error
}

type ingestionService struct {
	cloner      Cloner
	checkoutDir string
	timeout     time.Duration
}

// NewIngestionService 创建一个新的 IngestionService 实例。
func NewIngestionService(cloner Cloner, checkoutDir string, timeout time.Duration) IngestionService {
	return &ingestionService{cloner: cloner, checkoutDir: checkoutDir, timeout: timeout}
}

// Ingest 校验 URL，克隆到同级临时目录，成功后替换检出目录。
// 失败时临时目录被清理，已有检出保持不变。
func (s *ingestionService) Ingest(ctx context.Context, url string) (*model.Checkout, error) {
	url = strings.TrimSpace(url)
	redacted := gitrepo.RedactURL(url)
	if err := s.cloner.Validate(url); err != nil {
		log.Warnf("[Ingestion] 非法仓库地址: %s, err: %v", redacted, err)
		return nil, model.NewStageError(model.StageIngestion, "validate", fmt.Errorf("%w: %w", model.ErrInvalidURL, err))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	parent := filepath.Dir(s.checkoutDir)
	if err := os.MkdirAll(parent, os.ModePerm); err != nil {
		return nil, model.NewStageError(model.StageIngestion, "prepare", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(s.checkoutDir)+".clone-*")
	if err != nil {
		return nil, model.NewStageError(model.StageIngestion, "prepare", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	log.Infof("[Ingestion] 开始克隆仓库: %s", redacted)
	start := time.Now()
	if err := s.cloner.Clone(ctx, url, tmp); err != nil {
		log.Errorf("[Ingestion] 克隆仓库失败: %s, err: %v", redacted, err)
		return nil, model.NewStageError(model.StageIngestion, "clone", err)
	}

	if err := s.publish(tmp); err != nil {
		log.Errorf("[Ingestion] 替换检出目录失败: %v", err)
		return nil, model.NewStageError(model.StageIngestion, "publish", err)
	}
	log.Infof("[Ingestion] 克隆完成: %s -> %s, 耗时 %s", redacted, s.checkoutDir, time.Since(start))

	return &model.Checkout{URL: url, Dir: s.checkoutDir, ClonedAt: time.Now()}, nil
}

// publish 移除旧检出目录后把临时克隆改名到位。
func (s *ingestionService) publish(tmp string) error {
	if err := os.RemoveAll(s.checkoutDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old checkout: %w", err)
	}
	if err := os.Rename(tmp, s.checkoutDir); err != nil {
		return fmt.Errorf("rename clone: %w", err)
	}
	return nil
}
