package service

import (
	"errors"
	"fmt"

	"mediacatalog/internal/repository"
)

// Kind 对错误分类，API 层据此映射 HTTP 状态码。
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindStorage     Kind = "storage"
	KindPersistence Kind = "persistence"
	KindUnknown     Kind = "unknown"
)

// 每种 Kind 对应的哨兵错误，可用 errors.Is 判断。
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrStorage     = errors.New("storage error")
	ErrPersistence = errors.New("persistence error")
)

// Error 是服务层返回的统一错误。Message 可直接展示给调用方。
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrNotFound) 这类判断基于 Kind 生效。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrStorage:
		return e.Kind == KindStorage
	case ErrPersistence:
		return e.Kind == KindPersistence
	}
	return false
}

// KindOf 返回错误链上第一个 *Error 的 Kind。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage 返回可以写进响应体的信息，内部错误细节不外泄。
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Message: "storage operation failed", Err: err}
}

func persistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Message: "database operation failed", Err: err}
}

// fromRepository 把仓储层哨兵错误映射为服务错误。
func fromRepository(op, subject string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Message: subject + " not found", Err: err}
	case errors.Is(err, repository.ErrConflict):
		return &Error{Kind: KindConflict, Op: op, Message: subject + " already exists", Err: err}
	default:
		return persistenceError(op, err)
	}
}
