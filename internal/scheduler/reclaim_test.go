package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"mediacatalog/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReclaimer struct {
	calls     atomic.Int32
	threshold atomic.Int64
	result    *service.ReclaimResult
	err       error
}

func (f *fakeReclaimer) ReclaimOrphans(_ context.Context, threshold time.Duration) (*service.ReclaimResult, error) {
	f.calls.Add(1)
	f.threshold.Store(int64(threshold))
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReclaim(t *testing.T) {
	r := &fakeReclaimer{result: &service.ReclaimResult{
		Found:          2,
		StorageDeleted: 1,
		StorageFailed:  1,
		CleanedCount:   2,
		Outcomes: service.Outcomes{
			{ID: "a", Status: service.OutcomeSucceeded},
			{ID: "b", Status: service.OutcomeFailed, Err: errors.New("delete failed")},
		},
	}}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	result, err := Reclaim(context.Background(), r, 2*time.Hour, logger)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.CleanedCount)
	assert.Equal(t, int64(2*time.Hour), r.threshold.Load())
	assert.Contains(t, buf.String(), `"msg":"orphan object not deleted"`)
	assert.Contains(t, buf.String(), `"file_id":"b"`)
	assert.Contains(t, buf.String(), `"error":"delete failed"`)

	r.err = errors.New("db down")
	_, err = Reclaim(context.Background(), r, time.Hour, discardLogger())
	assert.Error(t, err)
}

func TestNewReclaimJob_InvalidSchedule(t *testing.T) {
	_, err := NewReclaimJob(Config{Schedule: "every hour"}, &fakeReclaimer{}, discardLogger())
	assert.Error(t, err)
}

func TestReclaimJob_RunsOnSchedule(t *testing.T) {
	r := &fakeReclaimer{result: &service.ReclaimResult{}}
	job, err := NewReclaimJob(Config{Schedule: "@every 1s", Threshold: time.Hour, Timeout: time.Second}, r, discardLogger())
	require.NoError(t, err)

	job.Start()
	assert.Eventually(t, func() bool { return r.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	job.Stop()
	job.Stop()
	assert.Equal(t, int64(time.Hour), r.threshold.Load())
}
