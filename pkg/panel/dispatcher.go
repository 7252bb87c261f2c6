package panel

import (
	"context"
	stderrors "errors"

	"github.com/easyops/aicontext-go/pkg/ai"
	"github.com/easyops/aicontext-go/pkg/conversation"
	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/prompt"
	"github.com/easyops/aicontext-go/pkg/store"
	"github.com/easyops/aicontext-go/pkg/symbols"
)

// 默认分类
//
// 面板首次启动时创建，分别承接用户手动添加、索引引用
// 与目录收集的条目。
var defaultCategories = []string{"By Request", "By Reference", "By Directory"}

// Bootstrap 创建默认分类
//
// 重复启动时分类已存在，不视为错误。
func Bootstrap(s *store.ContextStore) error {
	for _, name := range defaultCategories {
		if err := s.AddCategory(name); err != nil {
			if stderrors.Is(err, errors.ErrAlreadyExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// Indexer 符号索引依赖
type Indexer interface {
	Index(ctx context.Context, activeDoc string) error
}

// ActiveDocumentFunc 返回当前活动文档的路径
type ActiveDocumentFunc func() (string, error)

// Dispatcher 命令分发器
//
// 作为编排器的输出端，把流式文本转为 outputText 事件；
// 订阅存储变更，每次提交后推送 updateTreeView。
type Dispatcher struct {
	store     *store.ContextStore
	assembler *prompt.Assembler
	conv      *conversation.State
	orch      *ai.Orchestrator
	indexer   Indexer
	transport Transport
	activeDoc ActiveDocumentFunc
	logger    otel.Logger
	subID     string
}

// DispatcherOption 分发器配置选项
type DispatcherOption func(*Dispatcher)

// WithIndexer 设置符号索引器
func WithIndexer(indexer Indexer) DispatcherOption {
	return func(d *Dispatcher) {
		d.indexer = indexer
	}
}

// WithActiveDocument 设置活动文档查询函数
func WithActiveDocument(fn ActiveDocumentFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.activeDoc = fn
	}
}

// WithDispatcherLogger 设置日志器
func WithDispatcherLogger(logger otel.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher 创建命令分发器
//
// streamer 为 nil 时聊天命令输出固定的未启用后端提示。
func NewDispatcher(s *store.ContextStore, assembler *prompt.Assembler, conv *conversation.State, streamer ai.Streamer, transport Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:     s,
		assembler: assembler,
		conv:      conv,
		transport: transport,
		logger:    otel.GetLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.orch = ai.NewOrchestrator(streamer, d)

	// 每次提交变更后向面板推送新树。回调在存储锁内执行，
	// 只读快照，不回调存储方法。
	d.subID = s.Subscribe(func(tree *store.Tree) {
		data, err := tree.AsJSON()
		if err != nil {
			d.logger.Error("failed to encode tree for panel", "error", err)
			return
		}
		d.transport.Post(Event{Command: EventUpdateTreeView, TreeData: data})
	})

	return d
}

// Close 取消存储订阅
func (d *Dispatcher) Close() {
	d.store.Unsubscribe(d.subID)
}

// OutputText 编排器输出回调
func (d *Dispatcher) OutputText(text, messageID string) {
	d.transport.Post(Event{Command: EventOutputText, Text: text, AIMessageID: messageID})
}

// Done 编排器终止回调
//
// 失败时把可读的错误文本推给面板，诊断细节已由编排器记录。
func (d *Dispatcher) Done(messageID string, err error) {
	if err != nil {
		d.transport.Post(Event{
			Command:     EventOutputText,
			Text:        "Error: " + err.Error(),
			AIMessageID: messageID,
		})
	}
}

// Handle 处理一条入站命令
//
// 未知命令记录日志后忽略，不算错误。
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case CommandGetTreeData:
		return d.postTree()
	case CommandToggleItem:
		return d.store.SetItemEnabled(cmd.Category, cmd.Item, cmd.Enabled)
	case CommandRemoveItem:
		return d.store.RemoveItem(cmd.Category, cmd.Item)
	case CommandRemoveAllItems:
		return d.store.RemoveAllItems(cmd.Category)
	case CommandToggleCategory:
		return d.store.SetCategoryEnabled(cmd.Category, cmd.Enabled)
	case CommandSendMessage:
		return d.sendMessage(ctx, cmd)
	case CommandClearConversation:
		d.conv.ClearAll()
		return nil
	case CommandIndex:
		return d.index(ctx)
	default:
		d.logger.Warn("ignoring unknown panel command", "command", cmd.Command)
		return nil
	}
}

// HandleRaw 解析并处理一条 JSON 命令
func (d *Dispatcher) HandleRaw(ctx context.Context, data []byte) error {
	cmd, err := ParseCommand(data)
	if err != nil {
		return err
	}
	return d.Handle(ctx, cmd)
}

// postTree 主动推送当前树
func (d *Dispatcher) postTree() error {
	data, err := d.store.AsJSON()
	if err != nil {
		return err
	}
	d.transport.Post(Event{Command: EventUpdateTreeView, TreeData: data})
	return nil
}

// sendMessage 处理一个聊天回合
//
// 组装失败时不发起请求，把错误文本推给面板。
func (d *Dispatcher) sendMessage(ctx context.Context, cmd Command) error {
	assembled, err := d.assembler.Assemble(ctx, d.store.Snapshot(), cmd.Text)
	if err != nil {
		d.logger.Error("prompt assembly failed", "error", err)
		d.transport.Post(Event{
			Command:     EventOutputText,
			Text:        "Error: failed to assemble prompt: " + err.Error(),
			AIMessageID: cmd.AIMessageID,
		})
		return err
	}

	return d.orch.Send(ctx, ai.Turn{
		UserText:  cmd.Text,
		Prompt:    assembled,
		MessageID: cmd.AIMessageID,
	})
}

// index 处理一次索引请求
func (d *Dispatcher) index(ctx context.Context) error {
	if d.indexer == nil || d.activeDoc == nil {
		d.logger.Warn("index command received but indexing is not configured")
		return nil
	}

	activeDoc, err := d.activeDoc()
	if err != nil {
		return errors.WrapError(err, "no active document to index")
	}
	if err := d.indexer.Index(ctx, activeDoc); err != nil {
		return err
	}
	return d.postTree()
}

// Compile-time interface check
var _ ai.Sink = (*Dispatcher)(nil)

// 保持 symbols.Indexer 与本地接口对齐
var _ Indexer = (*symbols.Indexer)(nil)
