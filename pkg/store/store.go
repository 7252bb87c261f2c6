package store

import (
	"context"
	stderrors "errors"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/statestore"
	"github.com/easyops/aicontext-go/pkg/token"
)

// Listener 订阅回调
//
// 每次提交变更后收到一份新的树快照。回调在持有存储锁时同步执行，
// 不得在回调内再次调用存储的变更方法。
type Listener func(tree *Tree)

// subscription 一个已注册的订阅
type subscription struct {
	id       string
	listener Listener
}

// ContextStore 上下文树存储
//
// 所有变更串行执行，成功的变更恰好触发一次订阅通知，
// 失败的调用不产生任何部分状态。
type ContextStore struct {
	mu      sync.Mutex
	tree    *Tree
	subs    []subscription
	counter token.Counter
	logger  otel.Logger
	metrics otel.Metrics
	statFn  func(path string) (os.FileInfo, error)

	state    statestore.Store
	stateKey string
}

// Option 存储配置选项
type Option func(*ContextStore)

// WithCounter 设置 token 计数器
func WithCounter(counter token.Counter) Option {
	return func(s *ContextStore) {
		s.counter = counter
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(s *ContextStore) {
		s.logger = logger
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(metrics otel.Metrics) Option {
	return func(s *ContextStore) {
		s.metrics = metrics
	}
}

// WithStatFunc 设置文件检查函数（测试用）
func WithStatFunc(statFn func(path string) (os.FileInfo, error)) Option {
	return func(s *ContextStore) {
		s.statFn = statFn
	}
}

// WithStateStore 启用树状态持久化
//
// 每次提交变更后将树快照写入状态存储。配合 LoadState 使用
// 可以在重启后恢复上一次的树。
func WithStateStore(state statestore.Store, key string) Option {
	return func(s *ContextStore) {
		s.state = state
		s.stateKey = key
	}
}

// New 创建上下文树存储
func New(opts ...Option) *ContextStore {
	s := &ContextStore{
		tree:    NewTree(),
		counter: token.DefaultCounter(),
		logger:  otel.GetLogger(),
		metrics: otel.GetMetrics(),
		statFn:  os.Stat,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// LoadState 从状态存储恢复上一次持久化的树
//
// 无历史状态时保持空树，不视为错误。恢复不触发订阅通知，
// 调用方应在注册订阅前完成恢复。
func (s *ContextStore) LoadState(ctx context.Context) error {
	if s.state == nil {
		return nil
	}

	data, err := s.state.Get(ctx, s.stateKey)
	if err != nil {
		if stderrors.Is(err, statestore.ErrNotFound) {
			return nil
		}
		return errors.WrapError(err, "failed to load tree state")
	}

	tree, err := TreeFromJSON(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	return nil
}

// persist 持久化当前树快照
//
// 必须持锁调用。持久化失败只记录日志，不影响已提交的变更。
func (s *ContextStore) persist() {
	if s.state == nil {
		return
	}

	data, err := s.tree.AsJSON()
	if err != nil {
		s.logger.Warn("failed to encode tree state", "error", err)
		return
	}
	if err := s.state.Put(context.Background(), s.stateKey, data); err != nil {
		s.logger.Warn("failed to persist tree state", "error", err)
	}
}

// notify 通知所有订阅者
//
// 必须在持锁且变更已提交后调用。按订阅顺序同步回调，
// 回调收到的快照彼此独立。同时将树快照写入状态存储（如已配置）。
func (s *ContextStore) notify() {
	s.persist()
	snapshot := s.tree.clone()
	for _, sub := range s.subs {
		sub.listener(snapshot)
	}
}

// recordMutation 记录变更指标
//
// 必须持锁调用。除变更计数外同步刷新条目数与 token 总数仪表。
func (s *ContextStore) recordMutation(op string) {
	ctx := context.Background()
	s.metrics.Counter(otel.MetricContextMutations).Add(ctx, 1,
		otel.NewAttr(otel.AttrOperation, op))

	items, tokens := 0, 0
	for _, name := range s.tree.Names() {
		cat, _ := s.tree.Category(name)
		items += len(cat.order)
		tokens += cat.TokenTotal()
	}
	s.metrics.Gauge(otel.MetricContextItems).Set(ctx, float64(items))
	s.metrics.Gauge(otel.MetricContextTokens).Set(ctx, float64(tokens))
}

// AddCategory 创建空的启用分类
func (s *ContextStore) AddCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tree.Category(name); ok {
		return errors.WrapError(errors.ErrAlreadyExists, "category "+name)
	}

	s.tree.put(name, newCategory())
	s.recordMutation("add_category")
	s.notify()
	return nil
}

// RemoveCategory 删除分类及其全部条目
func (s *ContextStore) RemoveCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tree.remove(name) {
		return errors.WrapError(errors.ErrNotFound, "category "+name)
	}

	s.recordMutation("remove_category")
	s.notify()
	return nil
}

// Categories 返回按插入顺序排列的分类名
func (s *ContextStore) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Names()
}

// AddItem 向分类添加条目
//
// 分类不存在时隐式创建。条目必须指向一个常规文件，
// 初始元数据为 {enabled: true, tokenCount: 0, dirty: false}。
// 同键条目已存在时返回 ErrAlreadyExists。
func (s *ContextStore) AddItem(category, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.statFn(key)
	if err != nil || !info.Mode().IsRegular() {
		return errors.WrapError(errors.ErrInvalidItem, key)
	}

	cat, ok := s.tree.Category(category)
	if !ok {
		cat = newCategory()
		s.tree.put(category, cat)
	}

	if _, ok := cat.Item(key); ok {
		return errors.WrapError(errors.ErrAlreadyExists, "item "+key)
	}

	cat.put(key, &Item{Metadata: Metadata{Enabled: true}})
	s.recordMutation("add_item")
	s.notify()
	return nil
}

// RemoveItem 删除条目
func (s *ContextStore) RemoveItem(category, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	if !cat.remove(key) {
		return errors.WrapError(errors.ErrNotFound, "item "+key)
	}

	s.recordMutation("remove_item")
	s.notify()
	return nil
}

// RemoveAllItems 清空分类下的全部条目
func (s *ContextStore) RemoveAllItems(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}

	cat.items = make(map[string]*Item)
	cat.order = nil
	s.recordMutation("remove_all_items")
	s.notify()
	return nil
}

// Items 返回分类下按插入顺序排列的条目键
func (s *ContextStore) Items(category string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return nil, errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	return cat.Keys(), nil
}

// SetCategoryEnabled 设置分类启用状态
func (s *ContextStore) SetCategoryEnabled(category string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}

	cat.Metadata.Enabled = enabled
	s.recordMutation("set_category_enabled")
	s.notify()
	return nil
}

// IsCategoryEnabled 查询分类启用状态
func (s *ContextStore) IsCategoryEnabled(category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return false, errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	return cat.Metadata.Enabled, nil
}

// SetItemEnabled 设置条目启用状态
//
// 启用时同步重新计数条目内容的 token 数，计数完成后才返回；
// 文件不可读时计为 0。禁用时 token 数重置为 0。
func (s *ContextStore) SetItemEnabled(category, key string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	item, ok := cat.Item(key)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "item "+key)
	}

	item.Metadata.Enabled = enabled
	if enabled {
		item.Metadata.TokenCount = token.CountFile(s.counter, key)
	} else {
		item.Metadata.TokenCount = 0
	}

	s.recordMutation("set_item_enabled")
	s.notify()
	return nil
}

// SetTokenCount 设置条目 token 数
func (s *ContextStore) SetTokenCount(category, key string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		return errors.WrapError(errors.ErrInvalidArgument, "negative token count")
	}

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	item, ok := cat.Item(key)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "item "+key)
	}

	item.Metadata.TokenCount = n
	s.recordMutation("set_token_count")
	s.notify()
	return nil
}

// GetTokenCount 查询条目 token 数
func (s *ContextStore) GetTokenCount(category, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return 0, errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	item, ok := cat.Item(key)
	if !ok {
		return 0, errors.WrapError(errors.ErrNotFound, "item "+key)
	}
	return item.Metadata.TokenCount, nil
}

// CategoryTokenTotal 计算分类的 token 总数
//
// 按需求和，不缓存，只统计启用条目。
func (s *ContextStore) CategoryTokenTotal(category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return 0, errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	return cat.TokenTotal(), nil
}

// SetDirty 设置条目脏标记
func (s *ContextStore) SetDirty(category, key string, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	item, ok := cat.Item(key)
	if !ok {
		return errors.WrapError(errors.ErrNotFound, "item "+key)
	}

	item.Metadata.Dirty = dirty
	s.recordMutation("set_dirty")
	s.notify()
	return nil
}

// IsDirty 查询条目脏标记
func (s *ContextStore) IsDirty(category, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.tree.Category(category)
	if !ok {
		return false, errors.WrapError(errors.ErrNotFound, "category "+category)
	}
	item, ok := cat.Item(key)
	if !ok {
		return false, errors.WrapError(errors.ErrNotFound, "item "+key)
	}
	return item.Metadata.Dirty, nil
}

// Snapshot 返回整棵树的深拷贝
//
// 快照与存储无共享状态，可在长耗时的提示词组装期间安全读取。
func (s *ContextStore) Snapshot() *Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.clone()
}

// Restore 原子替换整棵树
func (s *ContextStore) Restore(tree *Tree) error {
	if tree == nil {
		return errors.WrapError(errors.ErrInvalidArgument, "nil tree")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = tree.clone()
	s.recordMutation("restore")
	s.notify()
	return nil
}

// Subscribe 注册订阅，返回订阅句柄
func (s *ContextStore) Subscribe(listener Listener) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.subs = append(s.subs, subscription{id: id, listener: listener})
	return id
}

// Unsubscribe 按句柄取消订阅
func (s *ContextStore) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
