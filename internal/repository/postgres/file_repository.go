package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediacatalog/internal/repository"
)

// NewFileRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *sql.DB
}

var _ repository.FileRepository = (*FileRepository)(nil)

var fileSelectColumns = []string{
	"id",
	"file_name",
	"file_key",
	"file_url",
	"file_type",
	"file_size",
	"status",
	"expire_at",
	"created_at",
	"updated_at",
}

var fileInsertColumns = []string{
	"id",
	"file_name",
	"file_key",
	"file_url",
	"file_type",
	"file_size",
	"status",
	"expire_at",
}

var fileColumnList = strings.Join(fileSelectColumns, ",")

// Create 插入文件记录并返回数据库生成字段（如时间戳）。
func (r *FileRepository) Create(ctx context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}

	query := fmt.Sprintf(`INSERT INTO files (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(fileInsertColumns, ","),
		placeholders(len(fileInsertColumns), 1),
		fileColumnList,
	)

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.FileName,
		record.FileKey,
		record.FileURL,
		record.FileType,
		nullInt64(record.FileSize),
		record.Status,
		nullTime(record.ExpireAt),
	)

	created, err := scanFileRecord(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert file %s: %w", record.FileKey, repository.ErrConflict)
		}
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return created, nil
}

// GetByID 通过主键查询文件记录。
func (r *FileRepository) GetByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumnList)
	return r.getOne(ctx, query, id)
}

// GetByKey 通过对象存储 key 查询文件记录。
func (r *FileRepository) GetByKey(ctx context.Context, key string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE file_key = $1`, fileColumnList)
	return r.getOne(ctx, query, key)
}

func (r *FileRepository) getOne(ctx context.Context, query string, arg any) (*repository.FileRecord, error) {
	file, err := scanFileRecord(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// FindByIDs 批量查询，结果顺序不保证与入参一致。
func (r *FileRepository) FindByIDs(ctx context.Context, ids []string) ([]repository.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id IN (%s)`, fileColumnList, placeholders(len(ids), 1))
	return r.queryMany(ctx, query, stringArgs(ids)...)
}

// CountByIDs 统计存在的文件数量，重复 id 只计一次。
func (r *FileRepository) CountByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM files WHERE id IN (%s)`, placeholders(len(ids), 1))
	var count int
	if err := r.db.QueryRowContext(ctx, query, stringArgs(ids)...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// List 支持按状态过滤并分页。
func (r *FileRepository) List(ctx context.Context, params repository.ListFilesParams) ([]repository.FileRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := make([]any, 0, len(params.Statuses)+2)
	whereClause := ""
	if len(params.Statuses) > 0 {
		for _, status := range params.Statuses {
			args = append(args, status)
		}
		whereClause = "WHERE status IN (" + placeholders(len(params.Statuses), 1) + ")"
	}

	args = append(args, limit)
	tail := fmt.Sprintf("ORDER BY created_at DESC LIMIT $%d", len(args))

	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM files %s %s`, fileColumnList, whereClause, tail)
	return r.queryMany(ctx, query, args...)
}

// UpdateSizeByKey 在上传确认时写入文件大小，不改变状态与过期时间。
func (r *FileRepository) UpdateSizeByKey(ctx context.Context, key string, size int64) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`UPDATE files SET file_size = $1, updated_at = $2 WHERE file_key = $3 RETURNING %s`, fileColumnList)
	return r.getOneArgs(ctx, query, size, time.Now().UTC(), key)
}

// UpdateSizeByID 按 id 写入文件大小。
func (r *FileRepository) UpdateSizeByID(ctx context.Context, id string, size int64) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`UPDATE files SET file_size = $1, updated_at = $2 WHERE id = $3 RETURNING %s`, fileColumnList)
	return r.getOneArgs(ctx, query, size, time.Now().UTC(), id)
}

func (r *FileRepository) getOneArgs(ctx context.Context, query string, args ...any) (*repository.FileRecord, error) {
	file, err := scanFileRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// MarkUsed 单条语句完成状态迁移，重复执行结果不变。
func (r *FileRepository) MarkUsed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{repository.FileStatusUsed, time.Now().UTC()}, stringArgs(ids)...)
	query := fmt.Sprintf(`UPDATE files SET status = $1, expire_at = NULL, updated_at = $2 WHERE id IN (%s)`,
		placeholders(len(ids), 3))
	return r.exec(ctx, query, args...)
}

// DeleteByIDs 删除指定记录，返回实际删除的行数。
func (r *FileRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM files WHERE id IN (%s)`, placeholders(len(ids), 1))
	return r.exec(ctx, query, stringArgs(ids)...)
}

// FindPendingCreatedBefore 查找早于 cutoff 创建且仍为 pending 的孤儿文件。
func (r *FileRepository) FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE status = $1 AND created_at < $2 ORDER BY created_at`, fileColumnList)
	return r.queryMany(ctx, query, repository.FileStatusPending, cutoff)
}

// DeletePendingCreatedBefore 按谓词批量删除早于 cutoff 创建且仍为 pending 的文件，使用关系级联删除。
func (r *FileRepository) DeletePendingCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM files WHERE status = $1 AND created_at < $2`, repository.FileStatusPending, cutoff)
}

func (r *FileRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *FileRepository) queryMany(ctx context.Context, query string, args ...any) ([]repository.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(rs rowScanner) (*repository.FileRecord, error) {
	var (
		rec      repository.FileRecord
		size     sql.NullInt64
		expireAt sql.NullTime
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.FileName,
		&rec.FileKey,
		&rec.FileURL,
		&rec.FileType,
		&size,
		&rec.Status,
		&expireAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if size.Valid {
		rec.FileSize = &size.Int64
	}
	if expireAt.Valid {
		rec.ExpireAt = &expireAt.Time
	}

	return &rec, nil
}
