// Package store implements the context tree, the single source of truth
// for which files and references participate in prompt assembly.
//
// The tree is a two-level structure: named categories owning keyed items.
// All mutations are serialized behind one lock and every committed
// mutation notifies subscribers exactly once with a fresh snapshot.
package store

// Metadata 节点元数据
//
// 分类与条目共用同一元数据结构。分类级的 TokenCount 是派生值，
// 序列化时按启用条目的 token 数之和计算，从不作为权威状态存储。
type Metadata struct {
	// Enabled 是否参与提示词组装
	Enabled bool `json:"enabled"`
	// TokenCount 条目内容的 token 数，禁用时为 0
	TokenCount int `json:"tokenCount"`
	// Dirty 内容自上次计数后是否已变更
	Dirty bool `json:"dirty,omitempty"`
}

// Item 上下文条目
//
// 以唯一键标识（通常为文件路径）。内容在组装提示词时按需读取，
// 不作为树的持久状态保存。
type Item struct {
	// Metadata 条目元数据
	Metadata Metadata
}

// clone 深拷贝条目
func (i *Item) clone() *Item {
	return &Item{Metadata: i.Metadata}
}

// Category 上下文分类
//
// 按插入顺序维护条目。同一键可以出现在多个分类中，互不影响。
type Category struct {
	// Metadata 分类元数据
	Metadata Metadata

	items map[string]*Item
	order []string
}

// newCategory 创建空的启用分类
func newCategory() *Category {
	return &Category{
		Metadata: Metadata{Enabled: true},
		items:    make(map[string]*Item),
	}
}

// Item 按键获取条目
func (c *Category) Item(key string) (*Item, bool) {
	item, ok := c.items[key]
	return item, ok
}

// Keys 返回按插入顺序排列的条目键
func (c *Category) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// TokenTotal 计算分类的 token 总数
//
// 仅统计启用条目，禁用条目贡献 0。
func (c *Category) TokenTotal() int {
	total := 0
	for _, key := range c.order {
		item := c.items[key]
		if item.Metadata.Enabled {
			total += item.Metadata.TokenCount
		}
	}
	return total
}

// put 插入或替换条目，保持插入顺序
func (c *Category) put(key string, item *Item) {
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = item
}

// remove 删除条目，返回是否存在
func (c *Category) remove(key string) bool {
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// clone 深拷贝分类
func (c *Category) clone() *Category {
	cloned := &Category{
		Metadata: c.Metadata,
		items:    make(map[string]*Item, len(c.items)),
		order:    make([]string, len(c.order)),
	}
	copy(cloned.order, c.order)
	for key, item := range c.items {
		cloned.items[key] = item.clone()
	}
	return cloned
}

// Tree 上下文树
//
// 按插入顺序维护分类。通过 Snapshot 获得的树是独立副本，
// 可以在持锁之外安全读取。
type Tree struct {
	categories map[string]*Category
	order      []string
}

// NewTree 创建空树
func NewTree() *Tree {
	return &Tree{
		categories: make(map[string]*Category),
	}
}

// Category 按名称获取分类
func (t *Tree) Category(name string) (*Category, bool) {
	cat, ok := t.categories[name]
	return cat, ok
}

// Names 返回按插入顺序排列的分类名
func (t *Tree) Names() []string {
	names := make([]string, len(t.order))
	copy(names, t.order)
	return names
}

// put 插入或替换分类，保持插入顺序
func (t *Tree) put(name string, cat *Category) {
	if _, ok := t.categories[name]; !ok {
		t.order = append(t.order, name)
	}
	t.categories[name] = cat
}

// remove 删除分类，返回是否存在
func (t *Tree) remove(name string) bool {
	if _, ok := t.categories[name]; !ok {
		return false
	}
	delete(t.categories, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// clone 深拷贝整棵树
func (t *Tree) clone() *Tree {
	cloned := &Tree{
		categories: make(map[string]*Category, len(t.categories)),
		order:      make([]string, len(t.order)),
	}
	copy(cloned.order, t.order)
	for name, cat := range t.categories {
		cloned.categories[name] = cat.clone()
	}
	return cloned
}
