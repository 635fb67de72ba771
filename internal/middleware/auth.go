package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// SubjectContextKey 是存储在 context 中的调用方标识的键。
type SubjectContextKey struct{}

// APIKeyAuth 创建 API Key 鉴权中间件。
// 接受 Authorization: ApiKey <token> 或 X-API-Key: <token>。
// 验证成功后将 API Key 作为调用方标识存入 context。
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(validKeys))
	for _, key := range validKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, msg := extractAPIKey(r)
			if msg != "" {
				w.Header().Set("WWW-Authenticate", `ApiKey realm="catalog"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			if !matchKey(keys, []byte(apiKey)) {
				w.Header().Set("WWW-Authenticate", `ApiKey realm="catalog"`)
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectContextKey{}, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing Authorization header"
	}

	const prefix = "ApiKey "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid Authorization format, expected: ApiKey <token>"
	}

	apiKey := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if apiKey == "" {
		return "", "empty API key"
	}
	return apiKey, ""
}

// matchKey 以常数时间比较每个候选 key。
func matchKey(keys [][]byte, candidate []byte) bool {
	matched := 0
	for _, key := range keys {
		matched |= subtle.ConstantTimeCompare(key, candidate)
	}
	return matched == 1
}

// GetSubject 从 context 中获取经过鉴权的调用方标识。
func GetSubject(ctx context.Context) string {
	if v, ok := ctx.Value(SubjectContextKey{}).(string); ok {
		return v
	}
	return ""
}
