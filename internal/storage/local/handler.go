package local

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"

	"mediacatalog/internal/storage"

	"github.com/go-chi/chi/v5"
)

// MaxObjectBytes 是单个对象允许上传的最大字节数。
const MaxObjectBytes int64 = 100 * 1024 * 1024 // 100MB

// Handler 返回挂载在 PublicURL 路径下的对象端点：PUT 按预签名 token 写入，GET 读取。
func (g *Gateway) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &objectHandler{gateway: g, logger: logger.With(slog.String("component", "local-objects"))}

	r := chi.NewRouter()
	r.Put("/*", h.put)
	r.Get("/*", h.get)
	return r
}

type objectHandler struct {
	gateway *Gateway
	logger  *slog.Logger
}

func (h *objectHandler) put(w http.ResponseWriter, r *http.Request) {
	key, err := cleanKey(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusForbidden, "upload token is required")
		return
	}
	tags, err := h.gateway.verifyUpload(token, key, r.Header.Get("Content-Type"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "upload rejected", slog.String("key", key), slog.Any("error", err))
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if r.ContentLength > MaxObjectBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "object exceeds size limit (100MB)")
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxObjectBytes)
	defer body.Close()

	if err := h.gateway.Write(r.Context(), key, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "object exceeds size limit (100MB)")
			return
		}
		h.logger.ErrorContext(r.Context(), "write object failed", slog.String("key", key), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store object")
		return
	}
	if err := h.gateway.PutTags(r.Context(), key, tags); err != nil {
		h.logger.ErrorContext(r.Context(), "write object tags failed", slog.String("key", key), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store object tags")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *objectHandler) get(w http.ResponseWriter, r *http.Request) {
	key, err := cleanKey(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := h.gateway.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read object")
		return
	}
	defer content.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if seeker, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(key), time.Time{}, seeker)
		return
	}
	if _, err := io.Copy(w, content); err != nil {
		// 客户端可能已断开
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
