package repository

import (
	"context"
	"time"
)

// FileUsage 记录文件与所属实体之间的引用关系。
// (FileID, OwnerType, OwnerID) 唯一，记录只增删不改。
type FileUsage struct {
	FileID    string    `json:"fileId"`
	OwnerType string    `json:"ownerType"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileUsageRepository 是使用关系台账的持久层接口。
type FileUsageRepository interface {
	// Create 插入一条使用关系，重复时返回 ErrConflict，文件不存在时返回 ErrNotFound。
	Create(ctx context.Context, usage FileUsage) error
	DeleteByFileIDs(ctx context.Context, fileIDs []string) (int64, error)
	DeleteByOwner(ctx context.Context, fileIDs []string, ownerType, ownerID string) (int64, error)
	// CountByFileIDs 返回每个文件剩余的引用数，没有引用的文件不出现在结果中。
	CountByFileIDs(ctx context.Context, fileIDs []string) (map[string]int, error)
	ListByFileID(ctx context.Context, fileID string) ([]FileUsage, error)
}
