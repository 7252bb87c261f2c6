package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easyops/aicontext-go/pkg/store"
	"github.com/easyops/aicontext-go/pkg/web"
)

// countingReader 记录每个键被读取次数的读取桩
type countingReader struct {
	contents map[string]string
	reads    map[string]int
}

func newCountingReader(contents map[string]string) *countingReader {
	return &countingReader{contents: contents, reads: make(map[string]int)}
}

func (r *countingReader) read(path string) (string, error) {
	r.reads[path]++
	content, ok := r.contents[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return content, nil
}

// stubResolver 返回固定结果的解析桩
type stubResolver struct {
	refs []web.Reference
	got  []string
}

func (r *stubResolver) Resolve(ctx context.Context, urls []string) []web.Reference {
	r.got = urls
	return r.refs
}

// buildTree 构造含指定条目的快照
func buildTree(t *testing.T, s *store.ContextStore, category string, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := s.AddItem(category, key); err != nil {
			t.Fatalf("AddItem(%s, %s) failed: %v", category, key, err)
		}
	}
}

// fieldCounter 按空白分词计数的测试计数器
type fieldCounter struct{}

func (fieldCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// tempStore 创建用真实临时文件填充的存储
func tempStore(t *testing.T, files map[string]string) (*store.ContextStore, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	s := store.New(store.WithCounter(fieldCounter{}))
	paths := make(map[string]string, len(files))
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		paths[name] = path
	}
	return s, paths
}

func TestAssembleSections(t *testing.T) {
	s, paths := tempStore(t, map[string]string{"main.go": "package main"})
	buildTree(t, s, "By Request", paths["main.go"])

	resolver := &stubResolver{refs: []web.Reference{
		{URL: "https://example.com", Text: "summary text"},
	}}

	a := New(WithResolver(resolver))
	out, err := a.Assemble(context.Background(), s.Snapshot(),
		"explain this #https://example.com#")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	for _, want := range []string{
		"## Context files",
		"### By Request",
		"package main",
		"## Web references",
		"### https://example.com",
		"summary text",
		"## User request",
		"explain this #https://example.com#",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("assembled prompt missing %q:\n%s", want, out)
		}
	}

	if len(resolver.got) != 1 || resolver.got[0] != "https://example.com" {
		t.Errorf("resolver received %v", resolver.got)
	}
}

func TestAssembleSharedKeyReadOnce(t *testing.T) {
	s, paths := tempStore(t, map[string]string{"shared.md": "shared content"})
	key := paths["shared.md"]
	buildTree(t, s, "first", key)
	buildTree(t, s, "second", key)
	for _, cat := range []string{"first", "second"} {
		if err := s.SetItemEnabled(cat, key, true); err != nil {
			t.Fatalf("SetItemEnabled failed: %v", err)
		}
	}

	reader := newCountingReader(map[string]string{key: "shared content"})
	a := New(WithFileReader(reader.read))

	out, err := a.Assemble(context.Background(), s.Snapshot(), "go")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if reader.reads[key] != 1 {
		t.Errorf("shared key read %d times, want 1", reader.reads[key])
	}
	// 两个分类都要出现该条目
	if strings.Count(out, "shared content") != 2 {
		t.Errorf("shared content should appear under both categories:\n%s", out)
	}
}

func TestAssembleSkipsDisabled(t *testing.T) {
	s, paths := tempStore(t, map[string]string{
		"on.md":  "enabled content",
		"off.md": "disabled content",
	})
	buildTree(t, s, "docs", paths["on.md"], paths["off.md"])
	if err := s.SetItemEnabled("docs", paths["on.md"], true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	if err := s.SetItemEnabled("docs", paths["off.md"], false); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}

	reader := newCountingReader(map[string]string{
		paths["on.md"]:  "enabled content",
		paths["off.md"]: "disabled content",
	})
	a := New(WithFileReader(reader.read))

	out, err := a.Assemble(context.Background(), s.Snapshot(), "go")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if reader.reads[paths["off.md"]] != 0 {
		t.Error("disabled item must never be read")
	}
	if strings.Contains(out, "disabled content") {
		t.Error("disabled item content leaked into prompt")
	}
	if !strings.Contains(out, "enabled content") {
		t.Error("enabled item content missing from prompt")
	}
}

func TestAssembleSkipsDisabledCategory(t *testing.T) {
	s, paths := tempStore(t, map[string]string{"a.md": "hidden"})
	buildTree(t, s, "docs", paths["a.md"])
	if err := s.SetItemEnabled("docs", paths["a.md"], true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	if err := s.SetCategoryEnabled("docs", false); err != nil {
		t.Fatalf("SetCategoryEnabled failed: %v", err)
	}

	reader := newCountingReader(map[string]string{paths["a.md"]: "hidden"})
	a := New(WithFileReader(reader.read))

	out, err := a.Assemble(context.Background(), s.Snapshot(), "go")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if reader.reads[paths["a.md"]] != 0 {
		t.Error("items of a disabled category must never be read")
	}
	if strings.Contains(out, "hidden") {
		t.Error("disabled category content leaked into prompt")
	}
}

func TestAssembleReadFailureAborts(t *testing.T) {
	s, paths := tempStore(t, map[string]string{"a.md": "x"})
	buildTree(t, s, "docs", paths["a.md"])
	if err := s.SetItemEnabled("docs", paths["a.md"], true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}

	// 读取桩不认识该键，模拟已启用条目读取失败
	reader := newCountingReader(nil)
	a := New(WithFileReader(reader.read))

	_, err := a.Assemble(context.Background(), s.Snapshot(), "go")
	if err == nil {
		t.Fatal("read failure of an enabled item must abort assembly")
	}
}

func TestAssembleNoContextStillRendersUserInput(t *testing.T) {
	a := New()
	out, err := a.Assemble(context.Background(), store.NewTree(), "just a question")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !strings.Contains(out, "## User request\njust a question") {
		t.Errorf("user input missing:\n%s", out)
	}
	if strings.Contains(out, "## Context files") || strings.Contains(out, "## Web references") {
		t.Errorf("empty sections should be omitted:\n%s", out)
	}
}
