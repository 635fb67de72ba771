package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetSubject(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"key-1", " key-2 "})(subjectEcho())

	cases := []struct {
		name   string
		header map[string]string
		status int
		body   string
	}{
		{"authorization header", map[string]string{"Authorization": "ApiKey key-1"}, http.StatusOK, "key-1"},
		{"x-api-key header", map[string]string{"X-API-Key": "key-2"}, http.StatusOK, "key-2"},
		{"missing", nil, http.StatusUnauthorized, ""},
		{"wrong scheme", map[string]string{"Authorization": "Bearer key-1"}, http.StatusUnauthorized, ""},
		{"unknown key", map[string]string{"Authorization": "ApiKey nope"}, http.StatusUnauthorized, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
		})
	}
}
