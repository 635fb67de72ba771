package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"mediacatalog/internal/repository"
	"mediacatalog/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// FileService 是文件生命周期引擎：签发上传、确认、关联、释放与孤儿回收。
type FileService struct {
	files   repository.FileRepository
	usages  repository.FileUsageRepository
	gateway storage.Gateway
	cfg     LifecycleConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewFileService 创建生命周期引擎，cfg 中未填写的字段使用默认值。
func NewFileService(
	files repository.FileRepository,
	usages repository.FileUsageRepository,
	gateway storage.Gateway,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileService{
		files:   files,
		usages:  usages,
		gateway: gateway,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "file_service")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config 返回引擎当前使用的配置副本。
func (s *FileService) Config() LifecycleConfig { return s.cfg }

// Reserve 为一次直传签发预签名 URL，并登记 pending 状态的文件记录。
// 不等待客户端上传完成。
func (s *FileService) Reserve(ctx context.Context, fileType, fileName string) (*ReserveResult, error) {
	const op = "FileService.Reserve"

	contentType, subtype, err := parseFileType(fileType)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, Message: err.Error()}
	}
	name := strings.TrimSpace(fileName)
	if name == "" {
		return nil, validationError(op, "fileName is required")
	}

	key := fmt.Sprintf("%s/%s.%s", s.cfg.KeyPrefix, uuid.NewString(), subtype)
	uploadURL, err := s.gateway.PresignUpload(ctx, storage.UploadRequest{
		Key:         key,
		ContentType: contentType,
		Expiry:      s.cfg.UploadURLTTL,
		Tags:        map[string]string{storage.TagStatus: storage.TagStatusPending},
	})
	if err != nil {
		storageFailuresTotal.WithLabelValues("presign").Inc()
		return nil, storageError(op, err)
	}

	expireAt := s.now().Add(s.cfg.PendingTTL)
	record, err := s.files.Create(ctx, &repository.FileRecord{
		ID:       uuid.NewString(),
		FileName: name,
		FileKey:  key,
		FileURL:  s.cfg.ObjectBaseURL + "/" + key,
		FileType: contentType,
		Status:   repository.FileStatusPending,
		ExpireAt: &expireAt,
	})
	if err != nil {
		// URL 已签发但没有记录，只能依赖存储侧的生命周期规则回收
		s.logger.ErrorContext(ctx, "create file record after presign failed",
			slog.String("file_key", key),
			slog.Any("error", err),
		)
		return nil, persistenceError(op, err)
	}

	filesReservedTotal.Inc()
	return &ReserveResult{
		UploadURL: uploadURL,
		FileKey:   record.FileKey,
		FileURL:   record.FileURL,
		FileType:  record.FileType,
		FileID:    record.ID,
	}, nil
}

// ConfirmUpload 在客户端上传完成后记录文件大小，不改变状态。
func (s *FileService) ConfirmUpload(ctx context.Context, fileKey string, fileSize int64) (*repository.FileRecord, error) {
	const op = "FileService.ConfirmUpload"

	key := strings.TrimSpace(fileKey)
	if key == "" {
		return nil, validationError(op, "fileKey is required")
	}
	if fileSize < 0 {
		return nil, validationError(op, "fileSize must not be negative")
	}

	current, err := s.files.GetByKey(ctx, key)
	if err != nil {
		return nil, fromRepository(op, "file", err)
	}
	if current.FileSize != nil && *current.FileSize != fileSize {
		s.logger.InfoContext(ctx, "file size overwritten",
			slog.String("file_id", current.ID),
			slog.Int64("previous_size", *current.FileSize),
			slog.Int64("file_size", fileSize),
		)
	}

	record, err := s.files.UpdateSizeByKey(ctx, key, fileSize)
	if err != nil {
		return nil, fromRepository(op, "file", err)
	}
	return record, nil
}

// Attach 把文件标记为 used、登记使用关系并把对象标签改为 status=used。
//
// 调用方负责事先校验这些文件存在；不存在的 id 会被静默忽略。
// 使用关系重复视为跳过；标签更新失败只记录日志，不回滚也不返回错误。
func (s *FileService) Attach(ctx context.Context, fileIDs []string, ownerType, ownerID string) (*AttachResult, error) {
	const op = "FileService.Attach"

	ids := distinctIDs(fileIDs)
	if len(ids) == 0 {
		return &AttachResult{}, nil
	}
	if err := validateIDs(op, "file ID", ids); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ownerType) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, validationError(op, "ownerType and ownerId are required")
	}

	if _, err := s.files.MarkUsed(ctx, ids); err != nil {
		return nil, persistenceError(op, err)
	}

	usage := s.forEach(ctx, ids, func(ctx context.Context, id string) ItemOutcome {
		err := s.usages.Create(ctx, repository.FileUsage{FileID: id, OwnerType: ownerType, OwnerID: ownerID})
		switch {
		case err == nil:
			return ItemOutcome{ID: id, Status: OutcomeSucceeded}
		case errors.Is(err, repository.ErrConflict):
			return ItemOutcome{ID: id, Status: OutcomeSkipped, Reason: "usage already recorded"}
		case errors.Is(err, repository.ErrNotFound):
			return ItemOutcome{ID: id, Status: OutcomeSkipped, Reason: "file not found"}
		default:
			return ItemOutcome{ID: id, Status: OutcomeFailed, Err: err}
		}
	})
	if failed := usage.Failed(); len(failed) > 0 {
		return nil, persistenceError(op, fmt.Errorf("record usage for %d file(s): %w", len(failed), failed[0].Err))
	}

	records, err := s.files.FindByIDs(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	byID := make(map[string]repository.FileRecord, len(records))
	found := make([]string, 0, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
		found = append(found, rec.ID)
	}

	tagging := s.forEach(ctx, found, func(ctx context.Context, id string) ItemOutcome {
		rec := byID[id]
		err := s.gateway.PutTags(ctx, rec.FileKey, map[string]string{storage.TagStatus: storage.TagStatusUsed})
		if err != nil {
			storageFailuresTotal.WithLabelValues("tag").Inc()
			s.logger.WarnContext(ctx, "retag attached object failed",
				slog.String("file_id", id),
				slog.String("file_key", rec.FileKey),
				slog.Any("error", err),
			)
			return ItemOutcome{ID: id, Status: OutcomeFailed, Err: err}
		}
		return ItemOutcome{ID: id, Status: OutcomeSucceeded}
	})

	filesAttachedTotal.Add(float64(len(records)))
	return &AttachResult{Count: len(records), Usage: usage, Tagging: tagging}, nil
}

// Release 无条件删除文件：先删对象，全部成功后再删使用关系与记录。
func (s *FileService) Release(ctx context.Context, fileIDs []string) (*ReleaseResult, error) {
	const op = "FileService.Release"

	ids := distinctIDs(fileIDs)
	if len(ids) == 0 {
		return &ReleaseResult{}, nil
	}
	if err := validateIDs(op, "file ID", ids); err != nil {
		return nil, err
	}

	records, err := s.files.FindByIDs(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	if len(records) == 0 {
		return nil, notFoundError(op, "no files found for IDs: %s", strings.Join(ids, ", "))
	}
	for _, rec := range records {
		if rec.FileKey == "" {
			return nil, validationError(op, "file %s has no file key", rec.ID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			if err := s.gateway.Delete(gctx, rec.FileKey); err != nil {
				storageFailuresTotal.WithLabelValues("delete").Inc()
				return fmt.Errorf("delete object %s: %w", rec.FileKey, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storageError(op, err)
	}

	if _, err := s.usages.DeleteByFileIDs(ctx, ids); err != nil {
		return nil, persistenceError(op, err)
	}
	deleted, err := s.files.DeleteByIDs(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	filesReleasedTotal.Add(float64(deleted))
	return &ReleaseResult{DeletedCount: deleted}, nil
}

// Detach 解除某个所有者对文件的引用，只释放仍存在且已无任何引用的文件。
func (s *FileService) Detach(ctx context.Context, fileIDs []string, ownerType, ownerID string) (*DetachResult, error) {
	const op = "FileService.Detach"

	ids := distinctIDs(fileIDs)
	if len(ids) == 0 {
		return &DetachResult{}, nil
	}
	if err := validateIDs(op, "file ID", ids); err != nil {
		return nil, err
	}

	removed, err := s.usages.DeleteByOwner(ctx, ids, ownerType, ownerID)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	records, err := s.files.FindByIDs(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	existing := make(map[string]bool, len(records))
	for _, rec := range records {
		existing[rec.ID] = true
	}

	counts, err := s.usages.CountByFileIDs(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	result := &DetachResult{UsagesRemoved: removed}
	var releasable []string
	for _, id := range ids {
		switch {
		case !existing[id]:
			result.Outcomes = append(result.Outcomes, ItemOutcome{ID: id, Status: OutcomeSkipped, Reason: "file not found"})
		case counts[id] > 0:
			result.Outcomes = append(result.Outcomes, ItemOutcome{ID: id, Status: OutcomeSkipped, Reason: "still referenced"})
		default:
			releasable = append(releasable, id)
		}
	}
	if len(releasable) == 0 {
		return result, nil
	}

	released, err := s.Release(ctx, releasable)
	if err != nil {
		return nil, err
	}
	for _, id := range releasable {
		result.Outcomes = append(result.Outcomes, ItemOutcome{ID: id, Status: OutcomeSucceeded})
	}
	result.Released = released.DeletedCount
	return result, nil
}

// ReclaimOrphans 清理创建时间早于 now-threshold 且仍为 pending 的文件。
// threshold <= 0 时使用配置的默认阈值。对象删除失败只记录，不中断清理。
func (s *FileService) ReclaimOrphans(ctx context.Context, threshold time.Duration) (*ReclaimResult, error) {
	const op = "FileService.ReclaimOrphans"

	start := time.Now()
	defer func() { reclaimDuration.Observe(time.Since(start).Seconds()) }()

	if threshold <= 0 {
		threshold = s.cfg.OrphanThreshold
	}
	cutoff := s.now().Add(-threshold)

	orphans, err := s.files.FindPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	if len(orphans) == 0 {
		s.logger.InfoContext(ctx, "no orphaned files to clean up", slog.Time("cutoff", cutoff))
		return &ReclaimResult{}, nil
	}
	s.logger.InfoContext(ctx, "found orphaned files",
		slog.Int("count", len(orphans)),
		slog.Time("cutoff", cutoff),
	)

	byID := make(map[string]repository.FileRecord, len(orphans))
	ids := make([]string, 0, len(orphans))
	for _, rec := range orphans {
		byID[rec.ID] = rec
		ids = append(ids, rec.ID)
	}

	outcomes := s.forEach(ctx, ids, func(ctx context.Context, id string) ItemOutcome {
		rec := byID[id]
		if rec.FileKey == "" {
			return ItemOutcome{ID: id, Status: OutcomeSkipped, Reason: "no file key"}
		}
		if err := s.gateway.Delete(ctx, rec.FileKey); err != nil {
			storageFailuresTotal.WithLabelValues("delete").Inc()
			s.logger.ErrorContext(ctx, "delete orphaned object failed",
				slog.String("file_key", rec.FileKey),
				slog.Any("error", err),
			)
			return ItemOutcome{ID: id, Status: OutcomeFailed, Err: err}
		}
		s.logger.DebugContext(ctx, "deleted orphaned object", slog.String("file_key", rec.FileKey))
		return ItemOutcome{ID: id, Status: OutcomeSucceeded}
	})

	// 重新计算截止时间，扫描期间跨过阈值的记录一并清理
	cleaned, err := s.files.DeletePendingCreatedBefore(ctx, s.now().Add(-threshold))
	if err != nil {
		return nil, persistenceError(op, err)
	}

	filesReclaimedTotal.Add(float64(cleaned))
	return &ReclaimResult{
		Found:          len(orphans),
		StorageDeleted: outcomes.Count(OutcomeSucceeded),
		StorageFailed:  outcomes.Count(OutcomeFailed),
		CleanedCount:   cleaned,
		Outcomes:       outcomes,
	}, nil
}

// EnsureExist 校验所有 id 都对应已存在的文件，供调用 Attach 之前使用。
func (s *FileService) EnsureExist(ctx context.Context, fileIDs []string) error {
	const op = "FileService.EnsureExist"

	ids := distinctIDs(fileIDs)
	if err := validateIDs(op, "file ID", ids); err != nil {
		return err
	}
	return ensureFilesExist(ctx, s.files, op, ids)
}

func ensureFilesExist(ctx context.Context, files repository.FileRepository, op string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := files.CountByIDs(ctx, ids)
	if err != nil {
		return persistenceError(op, err)
	}
	if n != len(ids) {
		return validationError(op, "some file IDs do not exist")
	}
	return nil
}

// GetFile 按 id 查询文件记录。
func (s *FileService) GetFile(ctx context.Context, id string) (*repository.FileRecord, error) {
	const op = "FileService.GetFile"
	if err := validateIDs(op, "file ID", []string{id}); err != nil {
		return nil, err
	}
	record, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepository(op, "file", err)
	}
	return record, nil
}

// ListFiles 以分页形式列出文件。
func (s *FileService) ListFiles(ctx context.Context, params repository.ListFilesParams) ([]repository.FileRecord, error) {
	const op = "FileService.ListFiles"
	for _, st := range params.Statuses {
		if !st.Valid() {
			return nil, validationError(op, "invalid status %q", st)
		}
	}
	if params.Limit < 0 || params.Offset < 0 {
		return nil, validationError(op, "limit and offset must not be negative")
	}
	records, err := s.files.List(ctx, params)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	if records == nil {
		records = []repository.FileRecord{}
	}
	return records, nil
}

// forEach 以受限并发对每个 id 执行 fn，结果顺序与 ids 一致。
func (s *FileService) forEach(ctx context.Context, ids []string, fn func(ctx context.Context, id string) ItemOutcome) Outcomes {
	out := make(Outcomes, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// parseFileType 校验 type/subtype 形式的 MIME 类型，返回去掉参数后的类型和子类型。
func parseFileType(fileType string) (string, string, error) {
	raw := strings.TrimSpace(fileType)
	if raw == "" {
		return "", "", fmt.Errorf("fileType is required")
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid fileType %q", fileType)
	}
	typ, subtype, ok := strings.Cut(mediaType, "/")
	if !ok || typ == "" || subtype == "" || strings.Contains(subtype, "/") {
		return "", "", fmt.Errorf("fileType must look like type/subtype, got %q", fileType)
	}
	return mediaType, subtype, nil
}

func validateIDs(op, field string, ids []string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
			return validationError(op, "invalid %s: %s", field, id)
		}
	}
	return nil
}

func distinctIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
