package api

import (
	"context"
	"log/slog"
	"net/http"

	"mediacatalog/internal/repository"
	"mediacatalog/internal/service"

	"github.com/go-chi/chi/v5"
)

// ProductOperations 是商品端点依赖的业务操作。
type ProductOperations interface {
	Create(ctx context.Context, in service.CreateProductInput) (*service.ProductView, error)
	Update(ctx context.Context, id string, in service.UpdateProductInput) (*service.ProductView, error)
	Delete(ctx context.Context, id string) (*repository.Product, error)
	Get(ctx context.Context, id string) (*service.ProductView, error)
	List(ctx context.Context, params repository.ListProductsParams) ([]service.ProductView, error)
}

// ProductHandler 提供商品的增删改查端点。
type ProductHandler struct {
	products ProductOperations
	logger   *slog.Logger
}

func NewProductHandler(products ProductOperations, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{products: products, logger: logger}
}

func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	products, err := h.products.List(r.Context(), repository.ListProductsParams{Limit: limit, Offset: offset})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, products, "Products fetched successfully")
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, product, "Product fetched successfully")
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := h.products.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, product, "Product created successfully")
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := h.products.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, product, "Product updated successfully")
}

// Delete 删除商品并释放不再被引用的媒体，返回被删除的商品。
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, product, "Product deleted successfully")
}
