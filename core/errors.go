package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 错误分类：
//   - UNAVAILABLE：外部存储不可用/出错，读路径降级为默认值，写路径记录日志后继续
//   - INVALID_INPUT：调用方参数违反约定（limit 越界、未知内容类型等），需要返回给调用方
//   - UNINITIALIZED：依赖未装配就调用引擎，属于启动期错误
//   - NOT_FOUND：存储中不存在对应记录
//
// 脏数据（字段缺失/无法解析）不产生错误，按字段降级为默认值。
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INVALID_INPUT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "engine", "learning"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 比较，便于 errors.Is(err, ErrStoreNotFound) 这类哨兵判断。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 包装底层错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"     // 资源不存在
	ErrorCodeUnavailable   = "UNAVAILABLE"   // 外部依赖不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT" // 输入无效
	ErrorCodeUninitialized = "UNINITIALIZED" // 依赖未装配
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// 模块名称常量
const (
	ModuleStore    = "store"
	ModuleProfile  = "profile"
	ModuleCatalog  = "catalog"
	ModuleEngine   = "engine"
	ModuleLearning = "learning"
	ModuleConfig   = "config"
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }

// IsUninitialized 检查错误是否为 UNINITIALIZED
func IsUninitialized(err error) bool { return hasCode(err, ErrorCodeUninitialized) }

// InvalidInput 构造调用方参数错误。
func InvalidInput(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeInvalidInput, fmt.Sprintf(format, args...))
}

// Uninitialized 构造依赖未装配错误。
func Uninitialized(module, what string) *DomainError {
	return NewDomainError(module, ErrorCodeUninitialized, module+": "+what+" is not configured")
}
