package statestore

import "errors"

// 状态存储相关错误
var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("state key not found")
	// ErrMissingPath 未指定数据库路径
	ErrMissingPath = errors.New("sqlite path is required")
	// ErrUnknownStoreType 未知的存储类型
	ErrUnknownStoreType = errors.New("unknown store type")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("store is closed")
)
