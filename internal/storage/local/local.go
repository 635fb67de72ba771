// Package local 在本地文件系统上模拟对象存储，供开发环境使用。
// 预签名 URL 指向本服务的 /objects 路由，签名是一个绑定 key、Content-Type 与标签的 HS256 JWT。
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediacatalog/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

const tagsSuffix = ".tags.json"

// Gateway 实现 storage.Gateway，对象保存在 BaseDir 下。
type Gateway struct {
	BaseDir   string
	PublicURL string // 例如 http://localhost:8080/objects
	secret    []byte
	now       func() time.Time
}

var _ storage.Gateway = (*Gateway)(nil)

// New 创建本地网关并确保目录存在。
func New(baseDir, publicURL string, secret []byte) (*Gateway, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("local gateway: signing secret is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	return &Gateway{
		BaseDir:   baseDir,
		PublicURL: strings.TrimRight(publicURL, "/"),
		secret:    secret,
		now:       time.Now,
	}, nil
}

type uploadClaims struct {
	ContentType string `json:"ct,omitempty"`
	Tagging     string `json:"tg,omitempty"`
	jwt.RegisteredClaims
}

// PresignUpload 返回带 token 的上传地址。
func (g *Gateway) PresignUpload(_ context.Context, req storage.UploadRequest) (string, error) {
	key, err := cleanKey(req.Key)
	if err != nil {
		return "", err
	}

	now := g.now()
	claims := uploadClaims{
		ContentType: req.ContentType,
		Tagging:     encodeTags(req.Tags),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.Expiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign upload token: %w", err)
	}

	u, err := url.JoinPath(g.PublicURL, key)
	if err != nil {
		return "", fmt.Errorf("build upload url: %w", err)
	}
	return u + "?token=" + url.QueryEscape(token), nil
}

// verifyUpload 校验 token 与请求是否匹配，返回签名时绑定的标签。
func (g *Gateway) verifyUpload(token, key, contentType string) (map[string]string, error) {
	claims := &uploadClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid upload token: %w", err)
	}
	if claims.Subject != key {
		return nil, fmt.Errorf("upload token is bound to a different key")
	}
	if claims.ContentType != "" && claims.ContentType != contentType {
		return nil, fmt.Errorf("content type %q does not match signed %q", contentType, claims.ContentType)
	}
	return decodeTags(claims.Tagging), nil
}

// Write 将对象原子写入本地文件系统。
func (g *Gateway) Write(ctx context.Context, key string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	targetPath, err := g.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := targetPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Read 打开指定 key 对应的对象。
func (g *Gateway) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	targetPath, err := g.objectPath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// PutTags 把标签写入对象旁边的 sidecar 文件。
func (g *Gateway) PutTags(_ context.Context, key string, tags map[string]string) error {
	targetPath, err := g.objectPath(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(targetPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("tag %s: %w", key, storage.ErrObjectNotFound)
		}
		return err
	}
	return writeTags(targetPath, tags)
}

// Tags 读取对象当前的标签。
func (g *Gateway) Tags(key string) (map[string]string, error) {
	targetPath, err := g.objectPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(targetPath + tagsSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var tags map[string]string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// Delete 删除对象及其标签文件，不存在时视为成功。
func (g *Gateway) Delete(_ context.Context, key string) error {
	targetPath, err := g.objectPath(key)
	if err != nil {
		return err
	}
	for _, p := range []string{targetPath, targetPath + tagsSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func (g *Gateway) objectPath(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(g.BaseDir, filepath.FromSlash(clean)), nil
}

func cleanKey(key string) (string, error) {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")
	if clean == "" || strings.HasSuffix(clean, tagsSuffix) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return clean, nil
}

func writeTags(objectPath string, tags map[string]string) error {
	if tags == nil {
		tags = map[string]string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return os.WriteFile(objectPath+tagsSuffix, data, 0o644)
}

func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode()
}

func decodeTags(raw string) map[string]string {
	tags := map[string]string{}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return tags
	}
	for k := range values {
		tags[k] = values.Get(k)
	}
	return tags
}
