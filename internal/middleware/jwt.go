package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig 描述 Bearer Token 的校验方式：HMAC 共享密钥、JWKS 公钥或二者兼有。
type JWTConfig struct {
	JWKSURL string
	Secret  string
	Logger  *slog.Logger
}

// JWTAuthenticator 校验 Bearer Token，并把 sub 作为调用方标识放入 context。
type JWTAuthenticator struct {
	jwks   *keyfunc.JWKS
	secret []byte
	logger *slog.Logger
}

// NewJWTAuth 创建鉴权器。配置了 JWKSURL 时拉取公钥并每小时刷新。
func NewJWTAuth(cfg JWTConfig) (*JWTAuthenticator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JWKSURL == "" && cfg.Secret == "" {
		return nil, errors.New("jwt auth requires a JWKS URL or a shared secret")
	}

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		var err error
		jwks, err = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Error("jwks refresh failed", slog.Any("error", err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks from %s: %w", cfg.JWKSURL, err)
		}
	}

	return NewJWTAuthWithJWKS(jwks, []byte(cfg.Secret), logger), nil
}

// NewJWTAuthWithJWKS 使用已有的 JWKS 创建鉴权器，jwks 可以为 nil。
func NewJWTAuthWithJWKS(jwks *keyfunc.JWKS, secret []byte, logger *slog.Logger) *JWTAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuthenticator{jwks: jwks, secret: secret, logger: logger}
}

// Close 停止 JWKS 后台刷新。
func (a *JWTAuthenticator) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// Middleware 返回鉴权中间件。
func (a *JWTAuthenticator) Middleware() func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "ES256", "EdDSA"}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeError(w, http.StatusUnauthorized, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "empty token")
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, a.keyFunc)
			if err != nil || !token.Valid {
				a.logger.DebugContext(r.Context(), "token rejected", slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectContextKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *JWTAuthenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(a.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("no jwks configured")
	}
	return a.jwks.Keyfunc(token)
}
