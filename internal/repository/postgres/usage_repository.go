package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"mediacatalog/internal/repository"
)

// NewFileUsageRepository 返回使用关系台账的 Postgres 实现。
func NewFileUsageRepository(db *sql.DB) *FileUsageRepository {
	return &FileUsageRepository{db: db}
}

// FileUsageRepository 实现 repository.FileUsageRepository。
type FileUsageRepository struct {
	db *sql.DB
}

var _ repository.FileUsageRepository = (*FileUsageRepository)(nil)

// Create 依赖主键唯一约束实现幂等，重复插入返回 repository.ErrConflict，文件不存在返回 repository.ErrNotFound。
func (r *FileUsageRepository) Create(ctx context.Context, usage repository.FileUsage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO file_usages (file_id, owner_type, owner_id) VALUES ($1, $2, $3)`,
		usage.FileID, usage.OwnerType, usage.OwnerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("file usage %s/%s/%s: %w", usage.FileID, usage.OwnerType, usage.OwnerID, repository.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("file usage references file %s: %w", usage.FileID, repository.ErrNotFound)
		}
		return err
	}
	return nil
}

func (r *FileUsageRepository) DeleteByFileIDs(ctx context.Context, fileIDs []string) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM file_usages WHERE file_id IN (%s)`, placeholders(len(fileIDs), 1))
	res, err := r.db.ExecContext(ctx, query, stringArgs(fileIDs)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *FileUsageRepository) DeleteByOwner(ctx context.Context, fileIDs []string, ownerType, ownerID string) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	args := append([]any{ownerType, ownerID}, stringArgs(fileIDs)...)
	query := fmt.Sprintf(`DELETE FROM file_usages WHERE owner_type = $1 AND owner_id = $2 AND file_id IN (%s)`,
		placeholders(len(fileIDs), 3))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *FileUsageRepository) CountByFileIDs(ctx context.Context, fileIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(fileIDs) == 0 {
		return counts, nil
	}
	query := fmt.Sprintf(`SELECT file_id, COUNT(*) FROM file_usages WHERE file_id IN (%s) GROUP BY file_id`,
		placeholders(len(fileIDs), 1))
	rows, err := r.db.QueryContext(ctx, query, stringArgs(fileIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *FileUsageRepository) ListByFileID(ctx context.Context, fileID string) ([]repository.FileUsage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT file_id, owner_type, owner_id, created_at FROM file_usages WHERE file_id = $1 ORDER BY created_at`,
		fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []repository.FileUsage
	for rows.Next() {
		var u repository.FileUsage
		if err := rows.Scan(&u.FileID, &u.OwnerType, &u.OwnerID, &u.CreatedAt); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}
