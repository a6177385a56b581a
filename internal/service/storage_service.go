package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/logger"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArchiveStore 成绩归档文件的存储后端，同名对象覆盖写入
type ArchiveStore interface {
	Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
	GetURL(name string) string
}

// LocalArchiveStore 写入 storage.local_path，通过 /uploads 静态路由访问
type LocalArchiveStore struct {
	Root string
}

// Upload 先写临时文件再 rename，读者不会看到写了一半的归档
func (p *LocalArchiveStore) Upload(_ context.Context, name string, reader io.Reader, _ int64, _ string) (string, error) {
	dst := filepath.Join(p.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return p.GetURL(name), nil
}

func (p *LocalArchiveStore) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(p.Root, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *LocalArchiveStore) GetURL(name string) string {
	return "/uploads/" + name
}

// MinioArchiveStore MinIO 存储
type MinioArchiveStore struct {
	Bucket string
	Client *minio.Client
	scheme string
	host   string
}

// NewMinioArchiveStore 桶不存在时自动创建
func NewMinioArchiveStore(ctx context.Context, cfg *config.StorageConfig) (*MinioArchiveStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
	}

	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return &MinioArchiveStore{Bucket: cfg.MinioBucket, Client: client, scheme: scheme, host: cfg.MinioEndpoint}, nil
}

func (p *MinioArchiveStore) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Bucket, name, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(name), nil
}

func (p *MinioArchiveStore) Delete(ctx context.Context, name string) error {
	err := p.Client.RemoveObject(ctx, p.Bucket, name, minio.RemoveObjectOptions{})
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

func (p *MinioArchiveStore) GetURL(name string) string {
	return fmt.Sprintf("%s://%s/%s/%s", p.scheme, p.host, p.Bucket, name)
}

// OSSArchiveStore 阿里云 OSS 存储
type OSSArchiveStore struct {
	bucket   *oss.Bucket
	endpoint string
}

func NewOSSArchiveStore(cfg *config.StorageConfig) (*OSSArchiveStore, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSArchiveStore{bucket: bucket, endpoint: cfg.OSSEndpoint}, nil
}

func (p *OSSArchiveStore) Upload(ctx context.Context, name string, reader io.Reader, _ int64, contentType string) (string, error) {
	if err := p.bucket.PutObject(name, reader, oss.ContentType(contentType), oss.WithContext(ctx)); err != nil {
		return "", err
	}
	return p.GetURL(name), nil
}

func (p *OSSArchiveStore) Delete(ctx context.Context, name string) error {
	return p.bucket.DeleteObject(name, oss.WithContext(ctx))
}

func (p *OSSArchiveStore) GetURL(name string) string {
	return fmt.Sprintf("https://%s.%s/%s", p.bucket.BucketName, p.endpoint, name)
}

// StorageService 按 storage.type 选择归档后端，远端初始化失败时回退到本地
type StorageService struct {
	Store ArchiveStore
}

func NewStorageService(cfg *config.Config) *StorageService {
	var store ArchiveStore
	switch cfg.Storage.Type {
	case util.StorageMinio:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := NewMinioArchiveStore(ctx, &cfg.Storage)
		if err != nil {
			logger.Log.Warn("MinIO init failed, falling back to local storage", zap.Error(err))
		} else {
			store = s
		}
	case util.StorageOSS:
		s, err := NewOSSArchiveStore(&cfg.Storage)
		if err != nil {
			logger.Log.Warn("OSS init failed, falling back to local storage", zap.Error(err))
		} else {
			store = s
		}
	}

	if store == nil {
		store = &LocalArchiveStore{Root: cfg.Storage.LocalPath}
	}
	return &StorageService{Store: store}
}

func (s *StorageService) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	return s.Store.Upload(ctx, name, reader, size, contentType)
}

func (s *StorageService) Delete(ctx context.Context, name string) error {
	return s.Store.Delete(ctx, name)
}
