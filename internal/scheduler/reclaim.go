// Package scheduler 在进程内按 cron 表达式周期性回收孤儿文件。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediacatalog/internal/service"

	"github.com/robfig/cron/v3"
)

// Reclaimer 执行一次孤儿文件回收。
type Reclaimer interface {
	ReclaimOrphans(ctx context.Context, threshold time.Duration) (*service.ReclaimResult, error)
}

// Config 描述回收任务的调度方式。
type Config struct {
	Schedule  string        // cron 表达式，支持 @every 1h 等描述符
	Threshold time.Duration // 早于 now-Threshold 的 pending 文件视为孤儿
	Timeout   time.Duration // 单次回收的超时，<=0 表示不限制
}

// ReclaimJob 定时调用 Reclaimer，上一轮未结束时跳过本轮。
type ReclaimJob struct {
	cron      *cron.Cron
	reclaimer Reclaimer
	cfg       Config
	logger    *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewReclaimJob 校验表达式并注册任务，调用 Start 后开始运行。
func NewReclaimJob(cfg Config, reclaimer Reclaimer, logger *slog.Logger) (*ReclaimJob, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "reclaim_job"))

	cronLogger := slogCronLogger{logger: logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	job := &ReclaimJob{
		cron:      c,
		reclaimer: reclaimer,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	if _, err := c.AddFunc(cfg.Schedule, job.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reclaim schedule %q: %w", cfg.Schedule, err)
	}
	return job, nil
}

// Start 启动调度，不阻塞。
func (j *ReclaimJob) Start() {
	j.cron.Start()
	j.logger.Info("reclaim job scheduled", slog.String("schedule", j.cfg.Schedule))
}

// Stop 取消正在运行的回收并等待其退出，可重复调用。
func (j *ReclaimJob) Stop() {
	j.stopOnce.Do(func() {
		j.cancel()
		<-j.cron.Stop().Done()
		j.logger.Info("reclaim job stopped")
	})
}

func (j *ReclaimJob) run() {
	ctx := j.ctx
	if j.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.Timeout)
		defer cancel()
	}
	_, _ = Reclaim(ctx, j.reclaimer, j.cfg.Threshold, j.logger)
}

// Reclaim 执行一次回收并记录结构化结果，定时任务与 CLI 共用。
func Reclaim(ctx context.Context, reclaimer Reclaimer, threshold time.Duration, logger *slog.Logger) (*service.ReclaimResult, error) {
	start := time.Now()
	result, err := reclaimer.ReclaimOrphans(ctx, threshold)
	if err != nil {
		logger.ErrorContext(ctx, "orphan reclaim failed",
			slog.Duration("threshold", threshold),
			slog.Any("error", err),
		)
		return nil, err
	}

	level := slog.LevelInfo
	if result.StorageFailed > 0 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "orphan reclaim finished",
		slog.Duration("threshold", threshold),
		slog.Int("found", result.Found),
		slog.Int("storage_deleted", result.StorageDeleted),
		slog.Int("storage_failed", result.StorageFailed),
		slog.Int64("cleaned", result.CleanedCount),
		slog.Duration("duration", time.Since(start)),
	)
	for _, outcome := range result.Outcomes.Failed() {
		logger.WarnContext(ctx, "orphan object not deleted",
			slog.String("file_id", outcome.ID),
			slog.Any("error", outcome.Err),
		)
	}
	return result, nil
}

// slogCronLogger 把 cron 的内部日志转到 slog。
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
