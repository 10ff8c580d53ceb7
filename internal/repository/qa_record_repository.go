package repository

import (
	"context"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/log"

	"gorm.io/gorm"
)

// mirroredQALogRepository 以 JSON 日志为准，同时把记录写入 MySQL 的 qa_records 表。
// 镜像写入失败只记录日志。
type mirroredQALogRepository struct {
	primary   QALogRepository
	db        *gorm.DB
	workspace string
}

// NewMirroredQALogRepository 包装 primary，为每条追加的记录写一份数据库镜像。
func NewMirroredQALogRepository(primary QALogRepository, db *gorm.DB, workspace string) QALogRepository {
	return &mirroredQALogRepository{primary: primary, db: db, workspace: workspace}
}

func (r *mirroredQALogRepository) Append(ctx context.Context, record model.QARecord) error {
	if err := r.primary.Append(ctx, record); err != nil {
		return err
	}
	record.ID = 0
	record.Workspace = r.workspace
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		log.Errorf("[QALog] 写入 MySQL 镜像失败: %v", err)
	}
	return nil
}

func (r *mirroredQALogRepository) List(ctx context.Context) ([]model.QARecord, error) {
	return r.primary.List(ctx)
}
