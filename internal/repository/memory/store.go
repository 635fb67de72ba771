// Package memory 提供进程内的仓储实现，用于本地开发（DB_DRIVER=memory）和测试。
// 语义与 Postgres 实现保持一致：唯一约束、级联删除、批量操作以实际影响行数为准。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediacatalog/internal/repository"
)

type usageKey struct {
	fileID    string
	ownerType string
	ownerID   string
}

// Store 持有全部表数据，三个仓储共享同一把锁。
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	files    map[string]repository.FileRecord
	keys     map[string]string
	usages   map[usageKey]repository.FileUsage
	products map[string]repository.Product
}

// NewStore 创建空的内存存储。
func NewStore() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		files:    make(map[string]repository.FileRecord),
		keys:     make(map[string]string),
		usages:   make(map[usageKey]repository.FileUsage),
		products: make(map[string]repository.Product),
	}
}

// SetClock 替换写入时间戳使用的时钟。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Files 返回文件记录仓储。
func (s *Store) Files() *FileRepository { return &FileRepository{s: s} }

// Usages 返回使用关系台账。
func (s *Store) Usages() *FileUsageRepository { return &FileUsageRepository{s: s} }

// Products 返回商品仓储。
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// FileRepository 实现 repository.FileRepository。
type FileRepository struct{ s *Store }

var _ repository.FileRepository = (*FileRepository)(nil)

func (r *FileRepository) Create(_ context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[record.ID]; ok {
		return nil, fmt.Errorf("insert file %s: %w", record.ID, repository.ErrConflict)
	}
	if _, ok := s.keys[record.FileKey]; ok {
		return nil, fmt.Errorf("insert file %s: %w", record.FileKey, repository.ErrConflict)
	}

	rec := cloneFile(*record)
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.files[rec.ID] = rec
	s.keys[rec.FileKey] = rec.ID

	out := cloneFile(rec)
	return &out, nil
}

func (r *FileRepository) GetByID(_ context.Context, id string) (*repository.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneFile(rec)
	return &out, nil
}

func (r *FileRepository) GetByKey(ctx context.Context, key string) (*repository.FileRecord, error) {
	r.s.mu.RLock()
	id, ok := r.s.keys[key]
	r.s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *FileRepository) FindByIDs(_ context.Context, ids []string) ([]repository.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []repository.FileRecord
	for _, id := range distinct(ids) {
		if rec, ok := r.s.files[id]; ok {
			out = append(out, cloneFile(rec))
		}
	}
	return out, nil
}

func (r *FileRepository) CountByIDs(ctx context.Context, ids []string) (int, error) {
	found, err := r.FindByIDs(ctx, ids)
	return len(found), err
}

func (r *FileRepository) List(_ context.Context, params repository.ListFilesParams) ([]repository.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[repository.FileStatus]bool, len(params.Statuses))
	for _, st := range params.Statuses {
		wanted[st] = true
	}

	var out []repository.FileRecord
	for _, rec := range r.s.files {
		if len(wanted) > 0 && !wanted[rec.Status] {
			continue
		}
		out = append(out, cloneFile(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, params.Offset, limit), nil
}

func (r *FileRepository) UpdateSizeByKey(ctx context.Context, key string, size int64) (*repository.FileRecord, error) {
	r.s.mu.RLock()
	id, ok := r.s.keys[key]
	r.s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.UpdateSizeByID(ctx, id, size)
}

func (r *FileRepository) UpdateSizeByID(_ context.Context, id string, size int64) (*repository.FileRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.FileSize = &size
	rec.UpdatedAt = s.now()
	s.files[id] = rec
	out := cloneFile(rec)
	return &out, nil
}

func (r *FileRepository) MarkUsed(_ context.Context, ids []string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range distinct(ids) {
		rec, ok := s.files[id]
		if !ok {
			continue
		}
		rec.Status = repository.FileStatusUsed
		rec.ExpireAt = nil
		rec.UpdatedAt = s.now()
		s.files[id] = rec
		n++
	}
	return n, nil
}

func (r *FileRepository) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range distinct(ids) {
		if s.deleteFileLocked(id) {
			n++
		}
	}
	return n, nil
}

func (r *FileRepository) FindPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]repository.FileRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []repository.FileRecord
	for _, rec := range r.s.files {
		if rec.Status == repository.FileStatusPending && rec.CreatedAt.Before(cutoff) {
			out = append(out, cloneFile(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *FileRepository) DeletePendingCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.files {
		if rec.Status == repository.FileStatusPending && rec.CreatedAt.Before(cutoff) {
			s.deleteFileLocked(id)
			n++
		}
	}
	return n, nil
}

// deleteFileLocked 删除文件并级联删除其使用关系，对应表上的 ON DELETE CASCADE。
func (s *Store) deleteFileLocked(id string) bool {
	rec, ok := s.files[id]
	if !ok {
		return false
	}
	delete(s.files, id)
	delete(s.keys, rec.FileKey)
	for k := range s.usages {
		if k.fileID == id {
			delete(s.usages, k)
		}
	}
	return true
}

// FileUsageRepository 实现 repository.FileUsageRepository。
type FileUsageRepository struct{ s *Store }

var _ repository.FileUsageRepository = (*FileUsageRepository)(nil)

func (r *FileUsageRepository) Create(_ context.Context, usage repository.FileUsage) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[usage.FileID]; !ok {
		return fmt.Errorf("file usage references file %s: %w", usage.FileID, repository.ErrNotFound)
	}
	k := usageKey{usage.FileID, usage.OwnerType, usage.OwnerID}
	if _, ok := s.usages[k]; ok {
		return fmt.Errorf("file usage %s/%s/%s: %w", usage.FileID, usage.OwnerType, usage.OwnerID, repository.ErrConflict)
	}
	usage.CreatedAt = s.now()
	s.usages[k] = usage
	return nil
}

func (r *FileUsageRepository) DeleteByFileIDs(_ context.Context, fileIDs []string) (int64, error) {
	return r.deleteWhere(fileIDs, func(usageKey) bool { return true }), nil
}

func (r *FileUsageRepository) DeleteByOwner(_ context.Context, fileIDs []string, ownerType, ownerID string) (int64, error) {
	return r.deleteWhere(fileIDs, func(k usageKey) bool {
		return k.ownerType == ownerType && k.ownerID == ownerID
	}), nil
}

func (r *FileUsageRepository) deleteWhere(fileIDs []string, match func(usageKey) bool) int64 {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := toSet(fileIDs)
	var n int64
	for k := range s.usages {
		if ids[k.fileID] && match(k) {
			delete(s.usages, k)
			n++
		}
	}
	return n
}

func (r *FileUsageRepository) CountByFileIDs(_ context.Context, fileIDs []string) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := toSet(fileIDs)
	counts := make(map[string]int)
	for k := range r.s.usages {
		if ids[k.fileID] {
			counts[k.fileID]++
		}
	}
	return counts, nil
}

func (r *FileUsageRepository) ListByFileID(_ context.Context, fileID string) ([]repository.FileUsage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []repository.FileUsage
	for k, u := range r.s.usages {
		if k.fileID == fileID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ProductRepository 实现 repository.ProductRepository。
type ProductRepository struct{ s *Store }

var _ repository.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) Create(_ context.Context, product *repository.Product) (*repository.Product, error) {
	if product == nil {
		return nil, fmt.Errorf("product is nil")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; ok || s.nameTakenLocked(product.Name, "") {
		return nil, fmt.Errorf("product %q: %w", product.Name, repository.ErrConflict)
	}
	p := cloneProduct(*product)
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = p
	out := cloneProduct(p)
	return &out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*repository.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (r *ProductRepository) List(_ context.Context, params repository.ListProductsParams) ([]repository.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]repository.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, params.Offset, limit), nil
}

func (r *ProductRepository) Update(_ context.Context, product *repository.Product) (*repository.Product, error) {
	if product == nil {
		return nil, fmt.Errorf("product is nil")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.products[product.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.nameTakenLocked(product.Name, product.ID) {
		return nil, fmt.Errorf("product %q: %w", product.Name, repository.ErrConflict)
	}
	p := cloneProduct(*product)
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	s.products[p.ID] = p
	out := cloneProduct(p)
	return &out, nil
}

func (r *ProductRepository) Delete(_ context.Context, id string) (*repository.Product, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.products, id)
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) nameTakenLocked(name, exceptID string) bool {
	for id, p := range s.products {
		if p.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func cloneFile(rec repository.FileRecord) repository.FileRecord {
	if rec.FileSize != nil {
		size := *rec.FileSize
		rec.FileSize = &size
	}
	if rec.ExpireAt != nil {
		at := *rec.ExpireAt
		rec.ExpireAt = &at
	}
	return rec
}

func cloneProduct(p repository.Product) repository.Product {
	p.Images = append([]string{}, p.Images...)
	p.Videos = append([]string{}, p.Videos...)
	return p
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
