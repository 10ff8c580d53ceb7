// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"chatwithcode/internal/config"
	"chatwithcode/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SnapshotUploader 把已发布的向量库文件上传为快照。
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, workspace string, files []string) (prefix string, err error)
}

// objectPutter 抽象 minio.Client 的上传能力。
type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOUploader 基于 MinIO 的快照上传。
type MinIOUploader struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// NewMinIOUploader 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOUploader(ctx context.Context, cfg config.MinIOConfig) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	return &MinIOUploader{client: client, bucket: cfg.BucketName, now: time.Now}, nil
}

// SnapshotPrefix 返回快照的对象前缀：snapshots/<workspace>/<unix>。
func SnapshotPrefix(workspace string, at time.Time) string {
	return path.Join("snapshots", workspace, fmt.Sprintf("%d", at.Unix()))
}

// UploadSnapshot 依次上传 files，对象名为前缀加文件名。
func (u *MinIOUploader) UploadSnapshot(ctx context.Context, workspace string, files []string) (string, error) {
	prefix := SnapshotPrefix(workspace, u.now())
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return "", fmt.Errorf("snapshot file %s: %w", f, err)
		}
		objectName := path.Join(prefix, filepath.Base(f))
		if _, err := u.client.FPutObject(ctx, u.bucket, objectName, f, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		}); err != nil {
			return "", fmt.Errorf("上传快照文件 %s 失败: %w", objectName, err)
		}
		log.Infof("[Snapshot] 已上传 %s/%s", u.bucket, objectName)
	}
	return prefix, nil
}
