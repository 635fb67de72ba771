package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediacatalog/internal/repository"
)

const (
	mediaKindImage = "image"
	mediaKindVideo = "video"
)

// NewProductRepository 返回商品的 Postgres 实现。
func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// ProductRepository 实现 repository.ProductRepository。
// 商品行与 product_media 行在同一事务内写入。
type ProductRepository struct {
	db *sql.DB
}

var _ repository.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) Create(ctx context.Context, product *repository.Product) (*repository.Product, error) {
	if product == nil {
		return nil, fmt.Errorf("product is nil")
	}

	out := *product
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO products (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
			product.ID, product.Name,
		)
		if err := row.Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("product %q: %w", product.Name, repository.ErrConflict)
			}
			return fmt.Errorf("insert product: %w", err)
		}
		return insertMedia(ctx, tx, product.ID, product.Images, product.Videos)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*repository.Product, error) {
	var p repository.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	media, err := loadMedia(ctx, r.db, []string{p.ID})
	if err != nil {
		return nil, err
	}
	applyMedia(&p, media[p.ID])
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context, params repository.ListProductsParams) ([]repository.Product, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM products ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, max(params.Offset, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []repository.Product
	for rows.Next() {
		var p repository.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	ids := make([]string, len(products))
	for i := range products {
		ids[i] = products[i].ID
	}
	media, err := loadMedia(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		applyMedia(&products[i], media[products[i].ID])
	}
	return products, nil
}

func (r *ProductRepository) Update(ctx context.Context, product *repository.Product) (*repository.Product, error) {
	if product == nil {
		return nil, fmt.Errorf("product is nil")
	}

	out := *product
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE products SET name = $1, updated_at = $2 WHERE id = $3 RETURNING created_at, updated_at`,
			product.Name, time.Now().UTC(), product.ID,
		)
		if err := row.Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			if isUniqueViolation(err) {
				return fmt.Errorf("product %q: %w", product.Name, repository.ErrConflict)
			}
			return fmt.Errorf("update product: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM product_media WHERE product_id = $1`, product.ID); err != nil {
			return fmt.Errorf("clear product media: %w", err)
		}
		return insertMedia(ctx, tx, product.ID, product.Images, product.Videos)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) (*repository.Product, error) {
	var deleted *repository.Product
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		// 媒体行会被级联删除，先在同一事务内读出
		media, err := loadMedia(ctx, tx, []string{id})
		if err != nil {
			return err
		}

		var p repository.Product
		err = tx.QueryRowContext(ctx,
			`DELETE FROM products WHERE id = $1 RETURNING id, name, created_at, updated_at`, id,
		).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		applyMedia(&p, media[id])
		deleted = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *ProductRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type mediaRow struct {
	kind   string
	fileID string
}

func insertMedia(ctx context.Context, tx *sql.Tx, productID string, images, videos []string) error {
	insert := func(kind string, ids []string) error {
		for pos, fileID := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_media (product_id, kind, position, file_id) VALUES ($1, $2, $3, $4)`,
				productID, kind, pos, fileID,
			); err != nil {
				return fmt.Errorf("insert product %s media: %w", kind, err)
			}
		}
		return nil
	}
	if err := insert(mediaKindImage, images); err != nil {
		return err
	}
	return insert(mediaKindVideo, videos)
}

func loadMedia(ctx context.Context, q queryer, productIDs []string) (map[string][]mediaRow, error) {
	query := fmt.Sprintf(`SELECT product_id, kind, file_id FROM product_media
	WHERE product_id IN (%s) ORDER BY product_id, kind, position`, placeholders(len(productIDs), 1))
	rows, err := q.QueryContext(ctx, query, stringArgs(productIDs)...)
	if err != nil {
		return nil, fmt.Errorf("load product media: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]mediaRow, len(productIDs))
	for rows.Next() {
		var (
			productID string
			m         mediaRow
		)
		if err := rows.Scan(&productID, &m.kind, &m.fileID); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], m)
	}
	return out, rows.Err()
}

func applyMedia(p *repository.Product, media []mediaRow) {
	p.Images = []string{}
	p.Videos = []string{}
	for _, m := range media {
		switch m.kind {
		case mediaKindImage:
			p.Images = append(p.Images, m.fileID)
		case mediaKindVideo:
			p.Videos = append(p.Videos, m.fileID)
		}
	}
}
