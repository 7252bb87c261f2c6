// Package statestore provides persistent blob storage for assistant state.
//
// This package defines a key/value blob store used to persist the
// context tree snapshot and per-provider conversation state across
// process restarts. The default implementation uses SQLite; an
// in-memory implementation is provided for tests.
package statestore

import "context"

// Store 状态存储接口
//
// 以键值对形式存储序列化后的状态快照。
// 值为不透明的字节序列，由调用方负责编解码。
type Store interface {
	// Put 存储状态快照
	Put(ctx context.Context, key string, value []byte) error

	// Get 获取状态快照，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete 删除状态快照
	Delete(ctx context.Context, key string) error

	// Keys 列出带指定前缀的所有键
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close 关闭连接
	Close() error
}

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
)

// Config 存储配置
type Config struct {
	// Type 存储类型
	Type StoreType `json:"type"`

	// SQLitePath SQLite 数据库文件路径
	SQLitePath string `json:"sqlite_path,omitempty"`
}

// DefaultConfig 返回默认配置（内存存储）
func DefaultConfig() *Config {
	return &Config{
		Type: StoreTypeMemory,
	}
}

// Open 根据配置打开状态存储
func Open(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case StoreTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, ErrMissingPath
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnknownStoreType
	}
}
