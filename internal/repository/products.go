package repository

import (
	"context"
	"time"
)

// Product 是商品聚合，Images/Videos 按顺序保存文件 id（非拥有引用）。
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Images    []string  `json:"images"`
	Videos    []string  `json:"videos"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MediaIDs 返回图片与视频 id 的并集，保持原有顺序。
func (p *Product) MediaIDs() []string {
	out := make([]string, 0, len(p.Images)+len(p.Videos))
	out = append(out, p.Images...)
	return append(out, p.Videos...)
}

// ListProductsParams 用于分页检索商品。
type ListProductsParams struct {
	Limit  int
	Offset int
}

// ProductRepository 是商品的持久层接口。
type ProductRepository interface {
	// Create 插入商品及其媒体列表，名称重复时返回 ErrConflict。
	Create(ctx context.Context, product *Product) (*Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, params ListProductsParams) ([]Product, error)
	// Update 覆盖名称与媒体列表。
	Update(ctx context.Context, product *Product) (*Product, error)
	// Delete 删除商品并返回删除前的数据。
	Delete(ctx context.Context, id string) (*Product, error)
}
