package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"mediacatalog/internal/repository"
	"mediacatalog/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyPattern = regexp.MustCompile(`^uploads/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.png$`)

func TestFileService_Reserve_CreatesPendingRecordAndSignedURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.files.Reserve(ctx, "image/png", "  cat.png ")
	require.NoError(t, err)

	assert.Regexp(t, keyPattern, res.FileKey)
	assert.Equal(t, testBaseURL+"/"+res.FileKey, res.FileURL)
	assert.Equal(t, "image/png", res.FileType)
	assert.NotEmpty(t, res.UploadURL)

	rec := env.record(t, res.FileID)
	assert.Equal(t, "cat.png", rec.FileName)
	assert.Equal(t, repository.FileStatusPending, rec.Status)
	require.NotNil(t, rec.ExpireAt)
	assert.Equal(t, env.now.Add(24*time.Hour), *rec.ExpireAt)
	assert.Nil(t, rec.FileSize)

	require.Equal(t, 1, env.gateway.presignCount())
	req := env.gateway.presigned[0]
	assert.Equal(t, res.FileKey, req.Key)
	assert.Equal(t, "image/png", req.ContentType)
	assert.Equal(t, 3*time.Hour, req.Expiry)
	assert.Equal(t, map[string]string{storage.TagStatus: storage.TagStatusPending}, req.Tags)
}

func TestFileService_Reserve_DropsMediaTypeParameters(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.files.Reserve(context.Background(), "image/jpeg; charset=binary", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.FileType)
	assert.Regexp(t, `\.jpeg$`, res.FileKey)
}

func TestFileService_Reserve_Validation(t *testing.T) {
	cases := []struct {
		name     string
		fileType string
		fileName string
	}{
		{"missing subtype", "png", "a.png"},
		{"empty type", "", "a.png"},
		{"trailing slash", "image/", "a.png"},
		{"blank name", "image/png", "   "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.files.Reserve(context.Background(), tc.fileType, tc.fileName)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Zero(t, env.gateway.presignCount())

			all, err := env.files.ListFiles(context.Background(), repository.ListFilesParams{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestFileService_Reserve_PresignFailureCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.presignErr = errors.New("s3 down")

	_, err := env.files.Reserve(context.Background(), "image/png", "a.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, KindStorage, KindOf(err))

	all, err := env.files.ListFiles(context.Background(), repository.ListFilesParams{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileService_ConfirmUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.reserve(t)

	rec, err := env.files.ConfirmUpload(ctx, res.FileKey, 2048)
	require.NoError(t, err)
	require.NotNil(t, rec.FileSize)
	assert.EqualValues(t, 2048, *rec.FileSize)
	assert.Equal(t, repository.FileStatusPending, rec.Status)
	assert.NotNil(t, rec.ExpireAt)

	rec, err = env.files.ConfirmUpload(ctx, "  "+res.FileKey+" ", 4096)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, *rec.FileSize)

	_, err = env.files.ConfirmUpload(ctx, "uploads/missing.png", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.files.ConfirmUpload(ctx, res.FileKey, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileService_Attach_MarksUsedRecordsUsageAndRetags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.reserve(t), env.reserve(t)
	owner := uuid.NewString()

	res, err := env.files.Attach(ctx, []string{a.FileID, b.FileID, a.FileID}, OwnerTypeProduct, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, res.Usage.Count(OutcomeSucceeded))
	assert.Equal(t, 2, res.Tagging.Count(OutcomeSucceeded))

	for _, r := range []*ReserveResult{a, b} {
		rec := env.record(t, r.FileID)
		assert.Equal(t, repository.FileStatusUsed, rec.Status)
		assert.Nil(t, rec.ExpireAt)
		assert.Equal(t, storage.TagStatusUsed, env.gateway.tagOf(r.FileKey))

		usages := env.usages(t, r.FileID)
		require.Len(t, usages, 1)
		assert.Equal(t, OwnerTypeProduct, usages[0].OwnerType)
		assert.Equal(t, owner, usages[0].OwnerID)
	}
}

func TestFileService_Attach_EmptyInputIsNoop(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.files.Attach(context.Background(), nil, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Usage)
	assert.Empty(t, res.Tagging)
}

func TestFileService_Attach_DuplicateUsageIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)
	owner := uuid.NewString()

	_, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, owner)
	require.NoError(t, err)

	res, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Usage.Count(OutcomeSkipped))
	assert.Len(t, env.usages(t, a.FileID), 1)
}

func TestFileService_Attach_TaggingFailureDoesNotFailCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.reserve(t), env.reserve(t)
	env.gateway.tagErr[b.FileKey] = errors.New("tagging unavailable")

	res, err := env.files.Attach(ctx, []string{a.FileID, b.FileID}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	failed := res.Tagging.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, b.FileID, failed[0].ID)

	// 数据库状态不回滚
	assert.Equal(t, repository.FileStatusUsed, env.record(t, b.FileID).Status)
	assert.Equal(t, storage.TagStatusPending, env.gateway.tagOf(b.FileKey))
	assert.Equal(t, storage.TagStatusUsed, env.gateway.tagOf(a.FileKey))
}

func TestFileService_Attach_MissingFileIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)
	missing := uuid.NewString()

	res, err := env.files.Attach(ctx, []string{a.FileID, missing}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Usage.Count(OutcomeSucceeded))
	assert.Equal(t, 1, res.Usage.Count(OutcomeSkipped))
	assert.Equal(t, 1, res.Tagging.Count(OutcomeSucceeded))

	assert.Equal(t, repository.FileStatusUsed, env.record(t, a.FileID).Status)
	assert.Equal(t, storage.TagStatusUsed, env.gateway.tagOf(a.FileKey))
	assert.Len(t, env.usages(t, a.FileID), 1)
	assert.False(t, env.exists(missing))
}

type failingUsages struct {
	repository.FileUsageRepository
	err error
}

func (f failingUsages) Create(context.Context, repository.FileUsage) error { return f.err }

func TestFileService_Attach_UsageFailureAbortsBeforeTagging(t *testing.T) {
	env := newTestEnv(t)
	a := env.reserve(t)

	files := NewFileService(env.store.Files(), failingUsages{env.store.Usages(), errors.New("connection reset")},
		env.gateway, LifecycleConfig{ObjectBaseURL: testBaseURL}, nil)

	res, err := files.Attach(context.Background(), []string{a.FileID}, OwnerTypeProduct, uuid.NewString())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, res)
	assert.Equal(t, storage.TagStatusPending, env.gateway.tagOf(a.FileKey))
}

func TestFileService_Attach_RejectsMalformedIDs(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.files.Attach(context.Background(), []string{"not-a-uuid"}, OwnerTypeProduct, uuid.NewString())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileService_EnsureExist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.reserve(t)

	require.NoError(t, env.files.EnsureExist(ctx, []string{res.FileID, res.FileID}))
	require.NoError(t, env.files.EnsureExist(ctx, nil))

	err := env.files.EnsureExist(ctx, []string{res.FileID, uuid.NewString()})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "some file IDs do not exist", PublicMessage(err))

	assert.ErrorIs(t, env.files.EnsureExist(ctx, []string{"nope"}), ErrValidation)
}

func TestFileService_Release_DeletesObjectsUsagesAndRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.reserve(t), env.reserve(t)
	_, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)

	res, err := env.files.Release(ctx, []string{a.FileID, b.FileID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.DeletedCount)

	assert.False(t, env.exists(a.FileID))
	assert.False(t, env.exists(b.FileID))
	assert.Empty(t, env.usages(t, a.FileID))
	assert.ElementsMatch(t, []string{a.FileKey, b.FileKey}, env.gateway.deletedKeys())
}

func TestFileService_Release_SomeExist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)
	owner := uuid.NewString()

	_, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, owner)
	require.NoError(t, err)
	again, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Usage.Count(OutcomeSkipped))
	assert.Len(t, env.usages(t, a.FileID), 1)

	res, err := env.files.Release(ctx, []string{a.FileID, uuid.NewString()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.DeletedCount)

	assert.False(t, env.exists(a.FileID))
	assert.Empty(t, env.usages(t, a.FileID))
	assert.Equal(t, []string{a.FileKey}, env.gateway.deletedKeys())
}

func TestFileService_Release_EmptyInputIsNoop(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.files.Release(context.Background(), []string{})
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount)
	assert.Empty(t, env.gateway.deletedKeys())
}

func TestFileService_Release_NothingFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.files.Release(context.Background(), []string{uuid.NewString()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileService_Release_StorageFailureKeepsRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.reserve(t), env.reserve(t)
	env.gateway.deleteErr[b.FileKey] = errors.New("access denied")

	_, err := env.files.Release(ctx, []string{a.FileID, b.FileID})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)

	assert.True(t, env.exists(a.FileID))
	assert.True(t, env.exists(b.FileID))
}

func TestFileService_Release_RecordWithoutKeyIsRejectedBeforeDeleting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)

	broken, err := env.store.Files().Create(ctx, &repository.FileRecord{
		ID:       uuid.NewString(),
		FileName: "broken",
		Status:   repository.FileStatusUsed,
	})
	require.NoError(t, err)

	_, err = env.files.Release(ctx, []string{a.FileID, broken.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, env.gateway.deletedKeys())
	assert.True(t, env.exists(a.FileID))
}

func TestFileService_ReclaimOrphans_OnlyOldPendingFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.now.Add(-25 * time.Hour)

	orphan1 := env.reserveAt(t, old, "image/png")
	orphan2 := env.reserveAt(t, old, "video/mp4")
	usedOld := env.reserveAt(t, old, "image/png")
	fresh := env.reserve(t)

	_, err := env.files.Attach(ctx, []string{usedOld.FileID}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)

	res, err := env.files.ReclaimOrphans(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 2, res.StorageDeleted)
	assert.Zero(t, res.StorageFailed)
	assert.EqualValues(t, 2, res.CleanedCount)

	assert.False(t, env.exists(orphan1.FileID))
	assert.False(t, env.exists(orphan2.FileID))
	assert.True(t, env.exists(usedOld.FileID))
	assert.True(t, env.exists(fresh.FileID))
	assert.ElementsMatch(t, []string{orphan1.FileKey, orphan2.FileKey}, env.gateway.deletedKeys())
}

func TestFileService_ReclaimOrphans_CustomThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hourOld := env.reserveAt(t, env.now.Add(-2*time.Hour), "image/png")
	recent := env.reserveAt(t, env.now.Add(-30*time.Minute), "image/png")

	res, err := env.files.ReclaimOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.CleanedCount)
	assert.False(t, env.exists(hourOld.FileID))
	assert.True(t, env.exists(recent.FileID))
}

func TestFileService_ReclaimOrphans_StorageFailureDoesNotStopSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.now.Add(-48 * time.Hour)

	a := env.reserveAt(t, old, "image/png")
	b := env.reserveAt(t, old, "image/png")
	env.gateway.deleteErr[a.FileKey] = errors.New("timeout")

	res, err := env.files.ReclaimOrphans(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 1, res.StorageDeleted)
	assert.Equal(t, 1, res.StorageFailed)
	assert.EqualValues(t, 2, res.CleanedCount)

	failed := res.Outcomes.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, a.FileID, failed[0].ID)

	assert.False(t, env.exists(a.FileID))
	assert.False(t, env.exists(b.FileID))
}

func TestFileService_ReclaimOrphans_SweepsRecordsExpiringDuringPass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.reserveAt(t, env.now.Add(-48*time.Hour), "image/png")
	edge := env.reserveAt(t, env.now.Add(-24*time.Hour+30*time.Second), "image/png")

	var mu sync.Mutex
	clock := env.now
	env.files.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	env.gateway.onDelete = func(string) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
	}

	res, err := env.files.ReclaimOrphans(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, 1, res.StorageDeleted)
	assert.EqualValues(t, 2, res.CleanedCount)

	assert.False(t, env.exists(old.FileID))
	assert.False(t, env.exists(edge.FileID))
}

func TestFileService_ReclaimOrphans_NothingToDo(t *testing.T) {
	env := newTestEnv(t)
	env.reserve(t)

	res, err := env.files.ReclaimOrphans(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, ReclaimResult{}, *res)
	assert.Empty(t, env.gateway.deletedKeys())
}

func TestFileService_Detach_ReleasesOnlyUnreferencedFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shared, solo := env.reserve(t), env.reserve(t)
	ownerA, ownerB := uuid.NewString(), uuid.NewString()

	_, err := env.files.Attach(ctx, []string{shared.FileID, solo.FileID}, OwnerTypeProduct, ownerA)
	require.NoError(t, err)
	_, err = env.files.Attach(ctx, []string{shared.FileID}, OwnerTypeProduct, ownerB)
	require.NoError(t, err)

	missing := uuid.NewString()
	res, err := env.files.Detach(ctx, []string{shared.FileID, solo.FileID, missing}, OwnerTypeProduct, ownerA)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.UsagesRemoved)
	assert.EqualValues(t, 1, res.Released)
	assert.Equal(t, 2, res.Outcomes.Count(OutcomeSkipped))
	assert.Equal(t, 1, res.Outcomes.Count(OutcomeSucceeded))

	assert.True(t, env.exists(shared.FileID))
	assert.False(t, env.exists(solo.FileID))
	assert.Len(t, env.usages(t, shared.FileID), 1)

	res, err = env.files.Detach(ctx, []string{shared.FileID}, OwnerTypeProduct, ownerB)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Released)
	assert.False(t, env.exists(shared.FileID))
}

func TestFileService_GetFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)

	rec, err := env.files.GetFile(ctx, a.FileID)
	require.NoError(t, err)
	assert.Equal(t, a.FileKey, rec.FileKey)

	_, err = env.files.GetFile(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.files.GetFile(ctx, "42")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileService_ListFiles_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, _ := env.reserve(t), env.reserve(t)
	_, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)

	used, err := env.files.ListFiles(ctx, repository.ListFilesParams{Statuses: []repository.FileStatus{repository.FileStatusUsed}})
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Equal(t, a.FileID, used[0].ID)

	_, err = env.files.ListFiles(ctx, repository.ListFilesParams{Statuses: []repository.FileStatus{"archived"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileService_StateNeverReturnsToPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.reserve(t)

	_, err := env.files.Attach(ctx, []string{a.FileID}, OwnerTypeProduct, uuid.NewString())
	require.NoError(t, err)
	_, err = env.files.ConfirmUpload(ctx, a.FileKey, 10)
	require.NoError(t, err)

	rec := env.record(t, a.FileID)
	assert.Equal(t, repository.FileStatusUsed, rec.Status)
	assert.Nil(t, rec.ExpireAt)
}
