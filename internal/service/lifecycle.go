package service

import (
	"strings"
	"time"
)

// 生命周期默认参数。
const (
	DefaultKeyPrefix       = "uploads"
	DefaultUploadURLTTL    = 3 * time.Hour
	DefaultPendingTTL      = 24 * time.Hour
	DefaultOrphanThreshold = 24 * time.Hour
	DefaultConcurrency     = 8
)

// 文件的使用方类型。
const OwnerTypeProduct = "Product"

// LifecycleConfig 是文件生命周期引擎的不可变配置，构造时注入。
type LifecycleConfig struct {
	KeyPrefix       string
	ObjectBaseURL   string // 文件 URL = ObjectBaseURL + "/" + key
	UploadURLTTL    time.Duration
	PendingTTL      time.Duration
	OrphanThreshold time.Duration
	Concurrency     int // 单次批量操作的最大并发 I/O 数
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	c.KeyPrefix = strings.Trim(c.KeyPrefix, "/")
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	c.ObjectBaseURL = strings.TrimRight(c.ObjectBaseURL, "/")
	if c.UploadURLTTL <= 0 {
		c.UploadURLTTL = DefaultUploadURLTTL
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	if c.OrphanThreshold <= 0 {
		c.OrphanThreshold = DefaultOrphanThreshold
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// OutcomeStatus 是批量操作中单个条目的结果。
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ItemOutcome 记录单个文件在某一步骤中的结果。
type ItemOutcome struct {
	ID     string        `json:"id"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Err    error         `json:"-"`
}

// Outcomes 是一组条目结果。
type Outcomes []ItemOutcome

// Count 统计指定状态的条目数。
func (o Outcomes) Count(status OutcomeStatus) int {
	n := 0
	for _, item := range o {
		if item.Status == status {
			n++
		}
	}
	return n
}

// Failed 返回失败的条目。
func (o Outcomes) Failed() Outcomes {
	var out Outcomes
	for _, item := range o {
		if item.Status == OutcomeFailed {
			out = append(out, item)
		}
	}
	return out
}

// ReserveResult 是签发上传地址的返回值。
type ReserveResult struct {
	UploadURL string `json:"uploadUrl"`
	FileKey   string `json:"fileKey"`
	FileURL   string `json:"fileUrl"`
	FileType  string `json:"fileType"`
	FileID    string `json:"fileId"`
}

// AttachResult 汇总一次关联操作。Count 为打标签前查到的记录数。
type AttachResult struct {
	Count   int      `json:"count"`
	Usage   Outcomes `json:"-"`
	Tagging Outcomes `json:"-"`
}

// ReleaseResult 汇总一次释放操作。
type ReleaseResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// ReclaimResult 汇总一次孤儿文件清理。
type ReclaimResult struct {
	Found          int      `json:"found"`
	StorageDeleted int      `json:"storageDeleted"`
	StorageFailed  int      `json:"storageFailed"`
	CleanedCount   int64    `json:"cleanedCount"`
	Outcomes       Outcomes `json:"-"`
}

// DetachResult 汇总一次解除关联操作。
type DetachResult struct {
	UsagesRemoved int64    `json:"usagesRemoved"`
	Released      int64    `json:"released"`
	Outcomes      Outcomes `json:"outcomes,omitempty"`
}
