package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mediacatalog/internal/repository"
	"mediacatalog/internal/repository/memory"
	"mediacatalog/internal/storage"

	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://localhost:9000/catalog"

type fakeGateway struct {
	mu         sync.Mutex
	presigned  []storage.UploadRequest
	tags       map[string]map[string]string
	deleted    []string
	presignErr error
	tagErr     map[string]error
	deleteErr  map[string]error
	onDelete   func(key string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tags:      make(map[string]map[string]string),
		tagErr:    make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (g *fakeGateway) PresignUpload(_ context.Context, req storage.UploadRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.presignErr != nil {
		return "", g.presignErr
	}
	g.presigned = append(g.presigned, req)
	g.tags[req.Key] = req.Tags
	return "https://upload.example/" + req.Key + "?sig=test", nil
}

func (g *fakeGateway) PutTags(_ context.Context, key string, tags map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.tagErr[key]; err != nil {
		return err
	}
	g.tags[key] = tags
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onDelete != nil {
		g.onDelete(key)
	}
	if err := g.deleteErr[key]; err != nil {
		return err
	}
	g.deleted = append(g.deleted, key)
	delete(g.tags, key)
	return nil
}

func (g *fakeGateway) tagOf(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tags[key][storage.TagStatus]
}

func (g *fakeGateway) deletedKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.deleted...)
}

func (g *fakeGateway) presignCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.presigned)
}

type testEnv struct {
	store    *memory.Store
	gateway  *fakeGateway
	files    *FileService
	products *ProductService
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	gateway := newFakeGateway()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	files := NewFileService(store.Files(), store.Usages(), gateway, LifecycleConfig{
		ObjectBaseURL: testBaseURL,
		Concurrency:   4,
	}, logger)
	files.now = func() time.Time { return now }
	store.SetClock(func() time.Time { return now })

	return &testEnv{
		store:    store,
		gateway:  gateway,
		files:    files,
		products: NewProductService(store.Products(), store.Files(), files, logger),
		now:      now,
	}
}

// reserveAt 以指定时间创建一个 pending 文件。
func (e *testEnv) reserveAt(t *testing.T, at time.Time, fileType string) *ReserveResult {
	t.Helper()
	e.store.SetClock(func() time.Time { return at })
	defer e.store.SetClock(func() time.Time { return e.now })

	res, err := e.files.Reserve(context.Background(), fileType, "photo")
	require.NoError(t, err)
	return res
}

func (e *testEnv) reserve(t *testing.T) *ReserveResult {
	t.Helper()
	return e.reserveAt(t, e.now, "image/png")
}

func (e *testEnv) record(t *testing.T, id string) *repository.FileRecord {
	t.Helper()
	rec, err := e.store.Files().GetByID(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) exists(id string) bool {
	_, err := e.store.Files().GetByID(context.Background(), id)
	return err == nil
}

func (e *testEnv) usages(t *testing.T, fileID string) []repository.FileUsage {
	t.Helper()
	usages, err := e.store.Usages().ListByFileID(context.Background(), fileID)
	require.NoError(t, err)
	return usages
}
