// Package symbols integrates editor symbol indexing with the context tree.
//
// Symbol and reference lookup are editor collaborator concerns, exposed
// here as interfaces. The indexer turns lookup results into items of a
// "Discovered" category so related files join the prompt context.
package symbols

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/easyops/aicontext-go/pkg/core/config"
	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/store"
	"github.com/easyops/aicontext-go/pkg/token"
)

// DiscoveredCategory 索引结果挂载的分类名
const DiscoveredCategory = "Discovered"

// ErrNotReady 符号提供方尚未就绪，可稍后重试
var ErrNotReady = stderrors.New("symbol provider not ready")

// Symbol 文档中的一个符号
type Symbol struct {
	// Name 符号名
	Name string `json:"name"`
	// Kind 符号种类（function、class、variable 等）
	Kind string `json:"kind"`
}

// DocumentSymbols 一个文档的符号信息
type DocumentSymbols struct {
	// Language 文档语言标识
	Language string `json:"language"`
	// Symbols 文档内的符号
	Symbols []Symbol `json:"symbols"`
}

// SymbolProvider 文档符号查询依赖
//
// 语言服务可能尚未完成解析，此时返回 ErrNotReady。
type SymbolProvider interface {
	Symbols(ctx context.Context, path string) (*DocumentSymbols, error)
}

// ReferenceProvider 符号引用查询依赖
//
// 返回引用了给定符号的文件路径，结果已去重。
type ReferenceProvider interface {
	References(ctx context.Context, path string, symbols []Symbol) ([]string, error)
}

// SymbolsWithRetries 带有限重试的符号查询
//
// 提供方未就绪时按固定间隔轮询，尝试次数用尽后返回最后的错误。
func SymbolsWithRetries(ctx context.Context, provider SymbolProvider, path string, policy config.IndexConfig) (*DocumentSymbols, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.WrapError(errors.ErrContextCanceled, "waiting for symbol provider")
			case <-time.After(policy.Interval):
			}
		}

		syms, err := provider.Symbols(ctx, path)
		if err == nil {
			return syms, nil
		}
		if !stderrors.Is(err, ErrNotReady) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// SiblingFiles 列出与给定文件同目录的其他常规文件
func SiblingFiles(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapError(err, "failed to list siblings of "+path)
	}

	var siblings []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if candidate == path {
			continue
		}
		siblings = append(siblings, candidate)
	}
	return siblings, nil
}

// Indexer 符号索引器
//
// 把活动文档的引用方与目录邻居收进 "Discovered" 分类。
type Indexer struct {
	store    *store.ContextStore
	symbols  SymbolProvider
	refs     ReferenceProvider
	counter  token.Counter
	policy   config.IndexConfig
	siblings func(path string) ([]string, error)
	logger   otel.Logger
}

// IndexerOption 索引器配置选项
type IndexerOption func(*Indexer)

// WithSiblingLister 设置目录邻居列取函数（测试用）
func WithSiblingLister(fn func(path string) ([]string, error)) IndexerOption {
	return func(ix *Indexer) {
		ix.siblings = fn
	}
}

// WithIndexerLogger 设置日志器
func WithIndexerLogger(logger otel.Logger) IndexerOption {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// NewIndexer 创建符号索引器
func NewIndexer(s *store.ContextStore, symbols SymbolProvider, refs ReferenceProvider, counter token.Counter, policy config.IndexConfig, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:    s,
		symbols:  symbols,
		refs:     refs,
		counter:  counter,
		policy:   policy,
		siblings: SiblingFiles,
		logger:   otel.GetLogger(),
	}

	for _, opt := range opts {
		opt(ix)
	}

	return ix
}

// Index 索引活动文档
//
// 依次收集符号引用方与目录邻居，逐个加入 "Discovered" 分类并
// 记下各自的 token 数。已存在的条目跳过，单个条目失败不中断
// 其余条目。
func (ix *Indexer) Index(ctx context.Context, activeDoc string) error {
	ctx, span := otel.GetTracer().Start(ctx, "symbols.Indexer.Index")
	defer span.End()
	span.SetAttributes(otel.Item(activeDoc), otel.Category(DiscoveredCategory))

	var discovered []string

	if ix.symbols != nil && ix.refs != nil {
		syms, err := SymbolsWithRetries(ctx, ix.symbols, activeDoc, ix.policy)
		if err != nil {
			span.RecordError(err)
			return errors.WrapError(err, "symbol lookup failed for "+activeDoc)
		}

		referencing, err := ix.refs.References(ctx, activeDoc, syms.Symbols)
		if err != nil {
			span.RecordError(err)
			return errors.WrapError(err, "reference lookup failed for "+activeDoc)
		}
		discovered = append(discovered, referencing...)
	}

	siblings, err := ix.siblings(activeDoc)
	if err != nil {
		span.RecordError(err)
		return err
	}
	discovered = append(discovered, siblings...)

	for _, path := range discovered {
		if err := ix.store.AddItem(DiscoveredCategory, path); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyExists) {
				continue
			}
			ix.logger.Warn("skipping discovered path", "path", path, "error", err)
			continue
		}
		count := token.CountFile(ix.counter, path)
		if err := ix.store.SetTokenCount(DiscoveredCategory, path, count); err != nil {
			ix.logger.Warn("failed to record token count", "path", path, "error", err)
		}
	}

	return nil
}
