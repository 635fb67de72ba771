package s3

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"mediacatalog/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint  string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool // 是否使用 HTTPS
	PathStyle bool // 是否使用路径风格（MinIO 需要 true）
}

// Gateway 基于 S3 兼容存储实现 storage.Gateway。
type Gateway struct {
	client *minio.Client
	bucket string
}

var _ storage.Gateway = (*Gateway)(nil)

// New 创建 S3 网关，bucket 不存在时自动创建。
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Gateway{client: client, bucket: cfg.Bucket}, nil
}

func newClient(cfg Config) (*minio.Client, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// PresignUpload 签发 PUT URL。Content-Type 与 x-amz-tagging 作为签名头，
// 客户端上传时必须原样携带，否则存储端拒绝请求。
func (g *Gateway) PresignUpload(ctx context.Context, req storage.UploadRequest) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("s3 gateway uninitialized")
	}

	headers := http.Header{}
	if req.ContentType != "" {
		headers.Set("Content-Type", req.ContentType)
	}
	if len(req.Tags) > 0 {
		encoded, err := encodeTags(req.Tags)
		if err != nil {
			return "", err
		}
		headers.Set("X-Amz-Tagging", encoded)
	}

	u, err := g.client.PresignHeader(ctx, http.MethodPut, g.bucket, cleanKey(req.Key), req.Expiry, nil, headers)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

// PutTags 覆盖对象标签。
func (g *Gateway) PutTags(ctx context.Context, key string, tagSet map[string]string) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("s3 gateway uninitialized")
	}

	t, err := tags.NewTags(tagSet, true)
	if err != nil {
		return fmt.Errorf("build object tags: %w", err)
	}

	if err := g.client.PutObjectTagging(ctx, g.bucket, cleanKey(key), t, minio.PutObjectTaggingOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("tag %s: %w", key, storage.ErrObjectNotFound)
		}
		return fmt.Errorf("put object tagging: %w", err)
	}
	return nil
}

// Delete 从 S3 存储删除对象；S3 对不存在的 key 同样返回成功。
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("s3 gateway uninitialized")
	}

	if err := g.client.RemoveObject(ctx, g.bucket, cleanKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func encodeTags(tagSet map[string]string) (string, error) {
	t, err := tags.NewTags(tagSet, true)
	if err != nil {
		return "", fmt.Errorf("build object tags: %w", err)
	}
	return t.String(), nil
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}
