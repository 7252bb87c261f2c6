// Package prompt assembles the text sent to a model for one user turn.
//
// An assembled prompt combines three attributable sections: the enabled
// context files from a tree snapshot, any web references hashed into
// the user input, and the raw user input itself.
package prompt

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/store"
	"github.com/easyops/aicontext-go/pkg/web"
)

// URLResolver 网页引用解析依赖
type URLResolver interface {
	Resolve(ctx context.Context, urls []string) []web.Reference
}

// FileReader 条目内容读取函数
type FileReader func(path string) (string, error)

// Assembler 提示词组装器
type Assembler struct {
	resolver URLResolver
	readFile FileReader
	logger   otel.Logger
	metrics  otel.Metrics
}

// Option 组装器配置选项
type Option func(*Assembler)

// WithResolver 设置网页引用解析器
func WithResolver(resolver URLResolver) Option {
	return func(a *Assembler) {
		a.resolver = resolver
	}
}

// WithFileReader 设置条目读取函数（测试用）
func WithFileReader(readFile FileReader) Option {
	return func(a *Assembler) {
		a.readFile = readFile
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// New 创建提示词组装器
func New(opts ...Option) *Assembler {
	a := &Assembler{
		readFile: func(path string) (string, error) {
			data, err := os.ReadFile(path)
			return string(data), err
		},
		logger:  otel.GetLogger(),
		metrics: otel.GetMetrics(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// entry 一个已读取内容的条目
type entry struct {
	key     string
	content string
}

// Assemble 为一个用户回合组装提示词
//
// 步骤：提取被 '#' 包裹的 URL 并并行解析；按分类顺序读取启用
// 条目的内容，跨分类同键只读一次（以首次读取为准）；渲染为单个
// 文本文档。启用条目读取失败时整体失败，不产生部分输出。
func (a *Assembler) Assemble(ctx context.Context, snapshot *store.Tree, userInput string) (string, error) {
	ctx, span := otel.GetTracer().Start(ctx, "prompt.Assemble")
	defer span.End()

	var refs []web.Reference
	urls := web.FindHashedURLs(userInput)
	if len(urls) > 0 && a.resolver != nil {
		refs = a.resolver.Resolve(ctx, urls)
	}

	sections, err := a.gather(snapshot)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	rendered := render(sections, refs, userInput)

	files := 0
	for _, sec := range sections {
		files += len(sec.entries)
	}
	span.SetAttributes(
		attribute.Int(otel.AttrPromptBytes, len(rendered)),
		attribute.Int(otel.AttrPromptFiles, files),
		attribute.Int(otel.AttrPromptURLs, len(urls)),
	)

	a.metrics.Counter(otel.MetricPromptAssemblies).Add(ctx, 1)
	a.metrics.Histogram(otel.MetricPromptBytes).Record(ctx, float64(len(rendered)),
		otel.NewAttr(otel.AttrPromptURLs, len(urls)))

	return rendered, nil
}

// categorySection 一个分类下已读取的条目
type categorySection struct {
	name    string
	entries []entry
}

// gather 读取快照中全部启用条目的内容
//
// 同一键跨分类共享首次读取的内容，禁用的分类或条目不触发读取。
func (a *Assembler) gather(snapshot *store.Tree) ([]categorySection, error) {
	read := make(map[string]string)
	var sections []categorySection

	for _, name := range snapshot.Names() {
		cat, _ := snapshot.Category(name)
		if !cat.Metadata.Enabled {
			continue
		}

		var entries []entry
		for _, key := range cat.Keys() {
			item, _ := cat.Item(key)
			if !item.Metadata.Enabled {
				continue
			}

			content, ok := read[key]
			if !ok {
				var err error
				content, err = a.readFile(key)
				if err != nil {
					a.logger.Error("context item read failed", "item", key, "error", err)
					return nil, errors.WrapError(err, "failed to read context item "+key)
				}
				read[key] = content
			}
			entries = append(entries, entry{key: key, content: content})
		}

		if len(entries) > 0 {
			sections = append(sections, categorySection{name: name, entries: entries})
		}
	}

	return sections, nil
}

// render 渲染最终文本文档
func render(sections []categorySection, refs []web.Reference, userInput string) string {
	var b strings.Builder

	if len(sections) > 0 {
		b.WriteString("## Context files\n")
		for _, sec := range sections {
			fmt.Fprintf(&b, "\n### %s\n", sec.name)
			for _, e := range sec.entries {
				fmt.Fprintf(&b, "\n#### %s\n%s\n", e.key, e.content)
			}
		}
		b.WriteString("\n")
	}

	if len(refs) > 0 {
		b.WriteString("## Web references\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "\n### %s\n%s\n", ref.URL, ref.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("## User request\n")
	b.WriteString(userInput)
	b.WriteString("\n")

	return b.String()
}
