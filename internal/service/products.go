package service

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"mediacatalog/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const minProductNameLength = 3

// MediaLifecycle 是商品服务依赖的文件生命周期操作，*FileService 实现了它。
type MediaLifecycle interface {
	Attach(ctx context.Context, fileIDs []string, ownerType, ownerID string) (*AttachResult, error)
	Detach(ctx context.Context, fileIDs []string, ownerType, ownerID string) (*DetachResult, error)
}

// MediaInput 引用一个已上传的文件，Size > 0 时顺带回填文件大小。
type MediaInput struct {
	ID   string `json:"id"`
	Size int64  `json:"fileSize,omitempty"`
}

// CreateProductInput 是创建商品的请求。
type CreateProductInput struct {
	Name   string       `json:"name"`
	Images []MediaInput `json:"images"`
	Videos []MediaInput `json:"videos"`
}

// UpdateProductInput 是更新商品的请求，媒体列表按增量描述。
type UpdateProductInput struct {
	Name           string       `json:"name"`
	NewImages      []MediaInput `json:"newImages"`
	NewVideos      []MediaInput `json:"newVideos"`
	ImagesToDelete []string     `json:"imagesToDelete"`
	VideosToDelete []string     `json:"videosToDelete"`
}

// MediaSummary 是商品视图中展示的文件信息。
type MediaSummary struct {
	ID       string `json:"id"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// ProductView 是对外返回的商品，媒体引用已展开为文件摘要。
type ProductView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Images    []MediaSummary `json:"images"`
	Videos    []MediaSummary `json:"videos"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ProductService 维护商品及其媒体引用，文件状态变更委托给 MediaLifecycle。
type ProductService struct {
	products  repository.ProductRepository
	files     repository.FileRepository
	lifecycle MediaLifecycle
	logger    *slog.Logger
}

func NewProductService(
	products repository.ProductRepository,
	files repository.FileRepository,
	lifecycle MediaLifecycle,
	logger *slog.Logger,
) *ProductService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductService{
		products:  products,
		files:     files,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "product_service")),
	}
}

// Create 校验名称与媒体引用后创建商品，并把引用的文件关联到该商品。
func (s *ProductService) Create(ctx context.Context, in CreateProductInput) (*ProductView, error) {
	const op = "ProductService.Create"

	name, err := validateProductName(op, in.Name)
	if err != nil {
		return nil, err
	}
	images, err := mediaIDs(op, "image", in.Images)
	if err != nil {
		return nil, err
	}
	videos, err := mediaIDs(op, "video", in.Videos)
	if err != nil {
		return nil, err
	}

	combined := distinctIDs(append(append([]string{}, images...), videos...))
	if err := ensureFilesExist(ctx, s.files, op, combined); err != nil {
		return nil, err
	}
	s.applySizes(ctx, append(append([]MediaInput{}, in.Images...), in.Videos...))

	product, err := s.products.Create(ctx, &repository.Product{
		ID:     uuid.NewString(),
		Name:   name,
		Images: images,
		Videos: videos,
	})
	if err != nil {
		return nil, fromRepository(op, "product", err)
	}

	if _, err := s.lifecycle.Attach(ctx, combined, OwnerTypeProduct, product.ID); err != nil {
		s.logger.ErrorContext(ctx, "attach media to new product failed",
			slog.String("product_id", product.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	return s.view(ctx, op, product)
}

// Update 按增量更新媒体列表：新增的文件被关联，移除的文件被解除关联。
// 持久化之后的副作用失败会返回错误，但不做补偿。
func (s *ProductService) Update(ctx context.Context, id string, in UpdateProductInput) (*ProductView, error) {
	const op = "ProductService.Update"

	if err := validateIDs(op, "product ID", []string{id}); err != nil {
		return nil, err
	}
	name, err := validateProductName(op, in.Name)
	if err != nil {
		return nil, err
	}
	newImages, err := mediaIDs(op, "image", in.NewImages)
	if err != nil {
		return nil, err
	}
	newVideos, err := mediaIDs(op, "video", in.NewVideos)
	if err != nil {
		return nil, err
	}
	imagesToDelete := distinctIDs(in.ImagesToDelete)
	if err := validateIDs(op, "image ID to delete", imagesToDelete); err != nil {
		return nil, err
	}
	videosToDelete := distinctIDs(in.VideosToDelete)
	if err := validateIDs(op, "video ID to delete", videosToDelete); err != nil {
		return nil, err
	}

	current, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepository(op, "product", err)
	}

	added := distinctIDs(append(append([]string{}, newImages...), newVideos...))
	if err := ensureFilesExist(ctx, s.files, op, added); err != nil {
		return nil, err
	}
	s.applySizes(ctx, append(append([]MediaInput{}, in.NewImages...), in.NewVideos...))

	next := &repository.Product{
		ID:     current.ID,
		Name:   name,
		Images: MergeMediaList(current.Images, newImages, imagesToDelete),
		Videos: MergeMediaList(current.Videos, newVideos, videosToDelete),
	}
	updated, err := s.products.Update(ctx, next)
	if err != nil {
		return nil, fromRepository(op, "product", err)
	}

	if _, err := s.lifecycle.Attach(ctx, added, OwnerTypeProduct, updated.ID); err != nil {
		s.logger.ErrorContext(ctx, "attach new media failed",
			slog.String("product_id", updated.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	removed := removedMedia(current, updated, append(imagesToDelete, videosToDelete...))
	if _, err := s.lifecycle.Detach(ctx, removed, OwnerTypeProduct, updated.ID); err != nil {
		s.logger.ErrorContext(ctx, "detach removed media failed",
			slog.String("product_id", updated.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	return s.view(ctx, op, updated)
}

// Delete 删除商品并解除其全部媒体引用，返回删除前的商品。
func (s *ProductService) Delete(ctx context.Context, id string) (*repository.Product, error) {
	const op = "ProductService.Delete"

	if err := validateIDs(op, "product ID", []string{id}); err != nil {
		return nil, err
	}
	product, err := s.products.Delete(ctx, id)
	if err != nil {
		return nil, fromRepository(op, "product", err)
	}

	if _, err := s.lifecycle.Detach(ctx, product.MediaIDs(), OwnerTypeProduct, product.ID); err != nil {
		s.logger.ErrorContext(ctx, "detach media of deleted product failed",
			slog.String("product_id", product.ID),
			slog.Any("error", err),
		)
		return nil, err
	}
	return product, nil
}

// Get 返回单个商品视图。
func (s *ProductService) Get(ctx context.Context, id string) (*ProductView, error) {
	const op = "ProductService.Get"

	if err := validateIDs(op, "product ID", []string{id}); err != nil {
		return nil, err
	}
	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepository(op, "product", err)
	}
	return s.view(ctx, op, product)
}

// List 分页返回商品视图。
func (s *ProductService) List(ctx context.Context, params repository.ListProductsParams) ([]ProductView, error) {
	const op = "ProductService.List"

	if params.Limit < 0 || params.Offset < 0 {
		return nil, validationError(op, "limit and offset must not be negative")
	}
	products, err := s.products.List(ctx, params)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	var ids []string
	for i := range products {
		ids = append(ids, products[i].MediaIDs()...)
	}
	summaries, err := s.summaries(ctx, ids)
	if err != nil {
		return nil, persistenceError(op, err)
	}

	views := make([]ProductView, 0, len(products))
	for i := range products {
		views = append(views, buildView(&products[i], summaries))
	}
	return views, nil
}

// MergeMediaList 计算 (current - removed) ++ added。
// removed 中不在 current 里的条目被忽略，added 中已存在的条目不会重复加入。
func MergeMediaList(current, added, removed []string) []string {
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}

	out := make([]string, 0, len(current)+len(added))
	seen := make(map[string]bool, len(current)+len(added))
	for _, id := range current {
		if drop[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range added {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// removedMedia 返回请求删除、原本存在且更新后不再被引用的文件。
func removedMedia(before, after *repository.Product, requested []string) []string {
	had := make(map[string]bool)
	for _, id := range before.MediaIDs() {
		had[id] = true
	}
	still := make(map[string]bool)
	for _, id := range after.MediaIDs() {
		still[id] = true
	}

	var out []string
	for _, id := range distinctIDs(requested) {
		if had[id] && !still[id] {
			out = append(out, id)
		}
	}
	return out
}

// applySizes 并发回填文件大小，失败只记录日志。
func (s *ProductService) applySizes(ctx context.Context, media []MediaInput) {
	var g errgroup.Group
	g.SetLimit(DefaultConcurrency)
	for _, m := range media {
		if m.Size <= 0 {
			continue
		}
		g.Go(func() error {
			if _, err := s.files.UpdateSizeByID(ctx, strings.TrimSpace(m.ID), m.Size); err != nil {
				s.logger.WarnContext(ctx, "update file size failed",
					slog.String("file_id", m.ID),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ProductService) view(ctx context.Context, op string, product *repository.Product) (*ProductView, error) {
	summaries, err := s.summaries(ctx, product.MediaIDs())
	if err != nil {
		return nil, persistenceError(op, err)
	}
	v := buildView(product, summaries)
	return &v, nil
}

func (s *ProductService) summaries(ctx context.Context, ids []string) (map[string]MediaSummary, error) {
	ids = distinctIDs(ids)
	out := make(map[string]MediaSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := s.files.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		out[rec.ID] = MediaSummary{
			ID:       rec.ID,
			FileURL:  rec.FileURL,
			FileName: rec.FileName,
			FileType: rec.FileType,
		}
	}
	return out, nil
}

// buildView 展开媒体引用，已不存在的文件不出现在视图中。
func buildView(p *repository.Product, summaries map[string]MediaSummary) ProductView {
	expand := func(ids []string) []MediaSummary {
		out := make([]MediaSummary, 0, len(ids))
		for _, id := range ids {
			if m, ok := summaries[id]; ok {
				out = append(out, m)
			}
		}
		return out
	}
	return ProductView{
		ID:        p.ID,
		Name:      p.Name,
		Images:    expand(p.Images),
		Videos:    expand(p.Videos),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func validateProductName(op, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", validationError(op, "Name is required")
	}
	if utf8.RuneCountInString(name) < minProductNameLength {
		return "", validationError(op, "Name must be at least %d characters long", minProductNameLength)
	}
	return name, nil
}

// mediaIDs 校验并去重媒体 id，保持顺序。
func mediaIDs(op, field string, media []MediaInput) ([]string, error) {
	ids := make([]string, 0, len(media))
	for _, m := range media {
		id := strings.TrimSpace(m.ID)
		if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
			return nil, validationError(op, "invalid %s ID", field)
		}
		ids = append(ids, id)
	}
	return distinctIDs(ids), nil
}
