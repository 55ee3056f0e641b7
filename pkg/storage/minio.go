// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"askto-go/internal/config"
	"askto-go/internal/model"
	"askto-go/pkg/log"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) error {
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return nil
}

// TranscriptObjectName 返回对话记录在存储桶中的对象名。
// 未绑定身份的会话归到 anonymous 目录下。
func TranscriptObjectName(identityID, sessionID string) string {
	if identityID == "" {
		identityID = "anonymous"
	}
	return fmt.Sprintf("transcripts/%s/%s.json", identityID, sessionID)
}

// TranscriptArchiver 把结束的会话以 JSON 写入对象存储。
type TranscriptArchiver struct {
	client *minio.Client
	bucket string
}

// NewTranscriptArchiver 创建一个新的 TranscriptArchiver。
func NewTranscriptArchiver(client *minio.Client, bucket string) *TranscriptArchiver {
	return &TranscriptArchiver{client: client, bucket: bucket}
}

// Archive 上传对话记录，返回对象名。同一会话重复归档会覆盖旧对象。
func (a *TranscriptArchiver) Archive(ctx context.Context, transcript model.Transcript) (string, error) {
	data, err := json.Marshal(transcript)
	if err != nil {
		return "", err
	}
	objectName := TranscriptObjectName(transcript.IdentityID, transcript.SessionID)
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		log.Errorf("归档对话记录失败: session=%s err=%v", transcript.SessionID, err)
		return "", err
	}
	log.Infof("对话记录已归档: %s/%s", a.bucket, objectName)
	return objectName, nil
}
