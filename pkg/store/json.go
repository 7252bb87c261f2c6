package store

import (
	"encoding/json"
	"sort"

	"github.com/easyops/aicontext-go/pkg/core/errors"
)

// 序列化用的线格式结构
//
// 形如 {分类: {metadata: {...}, items: {键: {metadata: {...}}}}}。
// 分类级 tokenCount 在写出时按启用条目之和计算。
type wireItem struct {
	Metadata Metadata `json:"metadata"`
}

type wireCategory struct {
	Metadata Metadata            `json:"metadata"`
	Items    map[string]wireItem `json:"items"`
}

// AsJSON 序列化整棵树
func (t *Tree) AsJSON() ([]byte, error) {
	wire := make(map[string]wireCategory, len(t.order))
	for _, name := range t.order {
		cat := t.categories[name]
		items := make(map[string]wireItem, len(cat.items))
		for key, item := range cat.items {
			items[key] = wireItem{Metadata: item.Metadata}
		}
		meta := cat.Metadata
		meta.TokenCount = cat.TokenTotal()
		wire[name] = wireCategory{Metadata: meta, Items: items}
	}
	return json.Marshal(wire)
}

// TreeFromJSON 反序列化上下文树
//
// JSON 对象无序，分类与条目按名称排序以保证确定性。
func TreeFromJSON(data []byte) (*Tree, error) {
	var wire map[string]wireCategory
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.WrapError(err, "failed to decode tree")
	}

	tree := NewTree()

	names := make([]string, 0, len(wire))
	for name := range wire {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		wc := wire[name]
		cat := newCategory()
		cat.Metadata = wc.Metadata

		keys := make([]string, 0, len(wc.Items))
		for key := range wc.Items {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			cat.put(key, &Item{Metadata: wc.Items[key].Metadata})
		}
		tree.put(name, cat)
	}

	return tree, nil
}

// AsJSON 序列化当前树状态
func (s *ContextStore) AsJSON() ([]byte, error) {
	return s.Snapshot().AsJSON()
}

// FromJSON 从序列化状态恢复树
//
// 等价于 Restore，作为一次变更触发通知。
func (s *ContextStore) FromJSON(data []byte) error {
	tree, err := TreeFromJSON(data)
	if err != nil {
		return err
	}
	return s.Restore(tree)
}
