package storage

import (
	"context"
	"errors"
	"time"
)

// 对象标签，配合存储侧生命周期规则回收被遗弃的上传。
const (
	TagStatus        = "status"
	TagStatusPending = "pending"
	TagStatusUsed    = "used"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("storage: object not found")

// UploadRequest 描述一次预签名上传的约束：key、Content-Type、有效期与初始标签都绑定在签名里。
type UploadRequest struct {
	Key         string
	ContentType string
	Expiry      time.Duration
	Tags        map[string]string
}

// Presigner 签发限时的直传 URL。
type Presigner interface {
	PresignUpload(ctx context.Context, req UploadRequest) (string, error)
}

// Tagger 覆盖对象的标签集合。
type Tagger interface {
	PutTags(ctx context.Context, key string, tags map[string]string) error
}

// Deleter 删除对象，对象不存在时视为成功。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Gateway 是生命周期引擎依赖的对象存储契约。
type Gateway interface {
	Presigner
	Tagger
	Deleter
}
