package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError 以统一的错误信封返回中间件层的拒绝响应。
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	})
}
