package repository

import "errors"

var (
	// ErrNotFound 表示目标记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict 表示违反唯一约束（重复的 key、名称或使用关系）。
	ErrConflict = errors.New("repository: unique constraint violated")
)
