package repository

import (
	"context"
	"time"
)

// FileStatus 描述文件生命周期状态。
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusUsed    FileStatus = "used"
)

// Valid 判断状态值是否受支持。
func (s FileStatus) Valid() bool {
	return s == FileStatusPending || s == FileStatusUsed
}

// FileRecord 代表数据库中的文件元数据。
// ExpireAt 仅在 pending 状态下存在，转为 used 时清空。
type FileRecord struct {
	ID        string     `json:"id"`
	FileName  string     `json:"fileName"`
	FileKey   string     `json:"fileKey"`
	FileURL   string     `json:"fileUrl"`
	FileType  string     `json:"fileType"`
	FileSize  *int64     `json:"fileSize,omitempty"`
	Status    FileStatus `json:"status"`
	ExpireAt  *time.Time `json:"expireAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ListFilesParams 用于分页检索文件。
type ListFilesParams struct {
	Statuses []FileStatus
	Limit    int
	Offset   int
}

// FileRepository 统一文件元数据持久层接口。
// 批量方法对不存在的 id 保持静默，调用方以返回的行数为准。
type FileRepository interface {
	Create(ctx context.Context, record *FileRecord) (*FileRecord, error)
	GetByID(ctx context.Context, id string) (*FileRecord, error)
	GetByKey(ctx context.Context, key string) (*FileRecord, error)
	FindByIDs(ctx context.Context, ids []string) ([]FileRecord, error)
	CountByIDs(ctx context.Context, ids []string) (int, error)
	List(ctx context.Context, params ListFilesParams) ([]FileRecord, error)

	UpdateSizeByKey(ctx context.Context, key string, size int64) (*FileRecord, error)
	UpdateSizeByID(ctx context.Context, id string, size int64) (*FileRecord, error)
	// MarkUsed 将 status 置为 used 并清空 expire_at，返回受影响行数。
	MarkUsed(ctx context.Context, ids []string) (int64, error)

	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]FileRecord, error)
	DeletePendingCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
