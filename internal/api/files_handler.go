package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"mediacatalog/internal/repository"
	"mediacatalog/internal/service"

	"github.com/go-chi/chi/v5"
)

// FileOperations 是文件端点依赖的生命周期操作。
type FileOperations interface {
	Reserve(ctx context.Context, fileType, fileName string) (*service.ReserveResult, error)
	ConfirmUpload(ctx context.Context, fileKey string, fileSize int64) (*repository.FileRecord, error)
	EnsureExist(ctx context.Context, fileIDs []string) error
	Attach(ctx context.Context, fileIDs []string, ownerType, ownerID string) (*service.AttachResult, error)
	Release(ctx context.Context, fileIDs []string) (*service.ReleaseResult, error)
	GetFile(ctx context.Context, id string) (*repository.FileRecord, error)
	ListFiles(ctx context.Context, params repository.ListFilesParams) ([]repository.FileRecord, error)
}

// FileHandler 提供文件上传生命周期相关的 HTTP 端点。
type FileHandler struct {
	files  FileOperations
	logger *slog.Logger
}

func NewFileHandler(files FileOperations, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{files: files, logger: logger}
}

func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.ListFiles)
		r.Post("/reserve", h.Reserve)
		r.Put("/confirm", h.ConfirmUpload)
		r.Post("/attach", h.Attach)
		r.Get("/{id}", h.GetFile)
		r.Delete("/{id}", h.DeleteFile)
	})
}

type reserveRequest struct {
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
}

type confirmRequest struct {
	FileKey  string `json:"fileKey"`
	FileSize *int64 `json:"fileSize"`
}

type attachRequest struct {
	FileIDs   []string `json:"fileIds"`
	OwnerType string   `json:"ownerType"`
	OwnerID   string   `json:"ownerId"`
}

// Reserve 签发直传 URL 并登记 pending 文件。
func (h *FileHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FileType) == "" || strings.TrimSpace(req.FileName) == "" {
		writeError(w, http.StatusBadRequest, "File type and name are required")
		return
	}

	result, err := h.files.Reserve(r.Context(), req.FileType, req.FileName)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, result, "Upload URL generated successfully")
}

// ConfirmUpload 在客户端直传完成后回填文件大小。
func (h *FileHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FileKey) == "" {
		writeError(w, http.StatusBadRequest, "File key is required")
		return
	}
	if req.FileSize == nil {
		writeError(w, http.StatusBadRequest, "File size is required")
		return
	}

	record, err := h.files.ConfirmUpload(r.Context(), req.FileKey, *req.FileSize)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, record, "File metadata updated successfully")
}

// Attach 把文件挂到指定的所有者上。
func (h *FileHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.files.EnsureExist(r.Context(), req.FileIDs); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	result, err := h.files.Attach(r.Context(), req.FileIDs, req.OwnerType, req.OwnerID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]int{"count": result.Count}, "Files attached successfully")
}

// ListFiles 返回文件集合，支持 status、limit、offset 过滤。
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := repository.ListFilesParams{Limit: limit, Offset: offset}

	statuses := r.URL.Query()["status"]
	if len(statuses) == 1 && strings.Contains(statuses[0], ",") {
		statuses = strings.Split(statuses[0], ",")
	}
	for _, raw := range statuses {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		params.Statuses = append(params.Statuses, repository.FileStatus(trimmed))
	}

	files, err := h.files.ListFiles(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, files, "Files fetched successfully")
}

// GetFile 返回单个文件的元数据。
func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	record, err := h.files.GetFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, record, "File fetched successfully")
}

// DeleteFile 无条件释放文件：删除对象、使用关系与记录。
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	result, err := h.files.Release(r.Context(), []string{chi.URLParam(r, "id")})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, result, "File deleted successfully")
}
