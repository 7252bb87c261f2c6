package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	aierrors "github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/statestore"
)

// wordCounter 按空白分词计数的测试计数器
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// writeTestFile 在临时目录中创建文件并返回路径
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func newTestStore(t *testing.T) *ContextStore {
	t.Helper()
	return New(WithCounter(wordCounter{}))
}

func TestAddCategory(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddCategory("By Request"); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}

	enabled, err := s.IsCategoryEnabled("By Request")
	if err != nil {
		t.Fatalf("IsCategoryEnabled failed: %v", err)
	}
	if !enabled {
		t.Error("new category should be enabled")
	}
}

func TestAddCategoryDuplicate(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddCategory("docs"); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}

	notified := 0
	s.Subscribe(func(tree *Tree) { notified++ })

	err := s.AddCategory("docs")
	if !errors.Is(err, aierrors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if notified != 0 {
		t.Errorf("failed mutation must not notify, got %d notifications", notified)
	}
	if got := s.Categories(); len(got) != 1 {
		t.Errorf("duplicate add changed state: %v", got)
	}
}

func TestCategoriesOrdered(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddCategory(name); err != nil {
			t.Fatalf("AddCategory(%s) failed: %v", name, err)
		}
	}

	want := []string{"zeta", "alpha", "mid"}
	if got := s.Categories(); !reflect.DeepEqual(got, want) {
		t.Errorf("Categories = %v, want %v", got, want)
	}
}

func TestAddItemImplicitCategory(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "a.go", "package a")

	notified := 0
	s.Subscribe(func(tree *Tree) { notified++ })

	if err := s.AddItem("sources", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	// 隐式建分类加条目也只通知一次
	if notified != 1 {
		t.Errorf("expected exactly 1 notification, got %d", notified)
	}

	items, err := s.Items("sources")
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if !reflect.DeepEqual(items, []string{path}) {
		t.Errorf("Items = %v, want [%s]", items, path)
	}

	count, err := s.GetTokenCount("sources", path)
	if err != nil {
		t.Fatalf("GetTokenCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("freshly added item must have token count 0, got %d", count)
	}
}

func TestAddItemRejectsNonFile(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	if err := s.AddItem("sources", dir); !errors.Is(err, aierrors.ErrInvalidItem) {
		t.Errorf("directory: expected ErrInvalidItem, got %v", err)
	}
	if err := s.AddItem("sources", filepath.Join(dir, "missing.go")); !errors.Is(err, aierrors.ErrInvalidItem) {
		t.Errorf("missing path: expected ErrInvalidItem, got %v", err)
	}
	if got := s.Categories(); len(got) != 0 {
		t.Errorf("failed AddItem must not create the category: %v", got)
	}
}

func TestRemoveItemNotFoundNeverNotifies(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddCategory("docs"); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}

	notified := 0
	s.Subscribe(func(tree *Tree) { notified++ })

	if err := s.RemoveItem("docs", "ghost"); !errors.Is(err, aierrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.RemoveItem("nocat", "ghost"); !errors.Is(err, aierrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.RemoveCategory("nocat"); !errors.Is(err, aierrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if notified != 0 {
		t.Errorf("NotFound removals must never notify, got %d", notified)
	}
}

func TestSetItemEnabledRecounts(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "readme.md", "hello brave world")

	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	// 新条目计数为 0，启用后重新计数
	if err := s.SetItemEnabled("docs", path, true); err != nil {
		t.Fatalf("SetItemEnabled(true) failed: %v", err)
	}
	count, err := s.GetTokenCount("docs", path)
	if err != nil {
		t.Fatalf("GetTokenCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("token count = %d, want 3", count)
	}

	// 禁用归零
	if err := s.SetItemEnabled("docs", path, false); err != nil {
		t.Fatalf("SetItemEnabled(false) failed: %v", err)
	}
	count, _ = s.GetTokenCount("docs", path)
	if count != 0 {
		t.Errorf("disabled item token count = %d, want 0", count)
	}

	// 再启用重新计数
	if err := s.SetItemEnabled("docs", path, true); err != nil {
		t.Fatalf("SetItemEnabled(true) again failed: %v", err)
	}
	count, _ = s.GetTokenCount("docs", path)
	if count != 3 {
		t.Errorf("re-enabled token count = %d, want 3", count)
	}
}

func TestSetItemEnabledVanishedFile(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "gone.md", "soon removed")

	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	// 文件消失时启用仍成功，计数为 0
	if err := s.SetItemEnabled("docs", path, true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	count, _ := s.GetTokenCount("docs", path)
	if count != 0 {
		t.Errorf("vanished file token count = %d, want 0", count)
	}
}

func TestCategoryTokenTotal(t *testing.T) {
	s := newTestStore(t)
	a := writeTestFile(t, "a.md", "one two")
	b := writeTestFile(t, "b.md", "one two three")

	for _, path := range []string{a, b} {
		if err := s.AddItem("docs", path); err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
		if err := s.SetItemEnabled("docs", path, true); err != nil {
			t.Fatalf("SetItemEnabled failed: %v", err)
		}
	}

	total, err := s.CategoryTokenTotal("docs")
	if err != nil {
		t.Fatalf("CategoryTokenTotal failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}

	// 禁用其中一个条目后总数只剩另一个
	if err := s.SetItemEnabled("docs", b, false); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	total, _ = s.CategoryTokenTotal("docs")
	if total != 2 {
		t.Errorf("total after disable = %d, want 2", total)
	}
}

func TestSetTokenCountNegative(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "a.md", "x")
	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if err := s.SetTokenCount("docs", path, -1); !errors.Is(err, aierrors.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestExactlyOneNotificationPerMutation(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "a.md", "one two")

	notified := 0
	s.Subscribe(func(tree *Tree) { notified++ })

	steps := []func() error{
		func() error { return s.AddCategory("docs") },
		func() error { return s.AddItem("docs", path) },
		func() error { return s.SetItemEnabled("docs", path, true) },
		func() error { return s.SetTokenCount("docs", path, 7) },
		func() error { return s.SetDirty("docs", path, true) },
		func() error { return s.SetCategoryEnabled("docs", false) },
		func() error { return s.RemoveItem("docs", path) },
		func() error { return s.RemoveAllItems("docs") },
		func() error { return s.RemoveCategory("docs") },
	}

	for i, step := range steps {
		before := notified
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if notified != before+1 {
			t.Errorf("step %d: notifications went %d -> %d, want exactly one", i, before, notified)
		}
	}
}

func TestSubscribersNotifiedInOrder(t *testing.T) {
	s := newTestStore(t)

	var got []string
	s.Subscribe(func(tree *Tree) { got = append(got, "first") })
	s.Subscribe(func(tree *Tree) { got = append(got, "second") })

	if err := s.AddCategory("docs"); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}

	want := []string{"first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("notification order = %v, want %v", got, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := newTestStore(t)

	notified := 0
	id := s.Subscribe(func(tree *Tree) { notified++ })
	s.Unsubscribe(id)

	if err := s.AddCategory("docs"); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}
	if notified != 0 {
		t.Errorf("unsubscribed listener was notified %d times", notified)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "a.md", "one")
	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	snap := s.Snapshot()

	if err := s.RemoveCategory("docs"); err != nil {
		t.Fatalf("RemoveCategory failed: %v", err)
	}

	// 快照不受后续变更影响
	cat, ok := snap.Category("docs")
	if !ok {
		t.Fatal("snapshot lost category after store mutation")
	}
	if _, ok := cat.Item(path); !ok {
		t.Error("snapshot lost item after store mutation")
	}
}

func TestRestore(t *testing.T) {
	s := newTestStore(t)
	path := writeTestFile(t, "a.md", "one two")
	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.SetTokenCount("docs", path, 2); err != nil {
		t.Fatalf("SetTokenCount failed: %v", err)
	}

	snap := s.Snapshot()

	other := newTestStore(t)
	notified := 0
	other.Subscribe(func(tree *Tree) { notified++ })

	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if notified != 1 {
		t.Errorf("Restore notified %d times, want 1", notified)
	}

	count, err := other.GetTokenCount("docs", path)
	if err != nil {
		t.Fatalf("GetTokenCount after restore failed: %v", err)
	}
	if count != 2 {
		t.Errorf("restored token count = %d, want 2", count)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := newTestStore(t)
	a := writeTestFile(t, "a.md", "one two")
	b := writeTestFile(t, "b.md", "three")

	if err := s.AddItem("docs", a); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.AddItem("docs", b); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.SetItemEnabled("docs", a, true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	if err := s.SetItemEnabled("docs", b, false); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	if err := s.SetDirty("docs", a, true); err != nil {
		t.Fatalf("SetDirty failed: %v", err)
	}

	data, err := s.AsJSON()
	if err != nil {
		t.Fatalf("AsJSON failed: %v", err)
	}

	restored := newTestStore(t)
	if err := restored.FromJSON(data); err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}

	count, err := restored.GetTokenCount("docs", a)
	if err != nil {
		t.Fatalf("GetTokenCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("restored token count = %d, want 2", count)
	}

	dirty, err := restored.IsDirty("docs", a)
	if err != nil {
		t.Fatalf("IsDirty failed: %v", err)
	}
	if !dirty {
		t.Error("dirty flag lost in round trip")
	}

	enabled, _ := restored.IsCategoryEnabled("docs")
	if !enabled {
		t.Error("category enabled flag lost in round trip")
	}

	total, err := restored.CategoryTokenTotal("docs")
	if err != nil {
		t.Fatalf("CategoryTokenTotal failed: %v", err)
	}
	if total != 2 {
		t.Errorf("restored category total = %d, want 2", total)
	}
}

func TestStatePersistence(t *testing.T) {
	state := statestore.NewMemoryStore()
	defer state.Close()
	path := writeTestFile(t, "a.md", "one two")

	s := New(WithCounter(wordCounter{}), WithStateStore(state, "tree"))
	if err := s.AddItem("docs", path); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.SetTokenCount("docs", path, 2); err != nil {
		t.Fatalf("SetTokenCount failed: %v", err)
	}

	// 新存储从同一状态恢复
	reloaded := New(WithCounter(wordCounter{}), WithStateStore(state, "tree"))
	if err := reloaded.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	count, err := reloaded.GetTokenCount("docs", path)
	if err != nil {
		t.Fatalf("GetTokenCount after reload failed: %v", err)
	}
	if count != 2 {
		t.Errorf("reloaded token count = %d, want 2", count)
	}
}

func TestInstanceSingleFlight(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	const callers = 8
	var wg sync.WaitGroup
	stores := make([]*ContextStore, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := Instance(context.Background(), WithCounter(wordCounter{}))
			if err != nil {
				t.Errorf("Instance failed: %v", err)
				return
			}
			stores[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if stores[i] != stores[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestInstanceRetryAfterFailure(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	state := statestore.NewMemoryStore()
	if err := state.Put(context.Background(), "tree", []byte("{not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// 损坏的状态让初始化失败
	_, err := Instance(context.Background(), WithStateStore(state, "tree"))
	if err == nil {
		t.Fatal("expected init failure on corrupt state")
	}

	// 修复状态后重试成功
	if err := state.Put(context.Background(), "tree", []byte("{}")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s, err := Instance(context.Background(), WithStateStore(state, "tree"))
	if err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
	if s == nil {
		t.Fatal("nil store after successful retry")
	}
}

func TestMutationRefreshesGauges(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	s := New(WithCounter(wordCounter{}), WithMetrics(metrics))

	a := writeTestFile(t, "a.md", "one two three")
	b := writeTestFile(t, "b.md", "four five")
	if err := s.AddItem("docs", a); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := s.AddItem("docs", b); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if got := metrics.GetGaugeValue(otel.MetricContextItems); got != 2 {
		t.Errorf("item gauge = %f, want 2", got)
	}

	if err := s.SetItemEnabled("docs", a, true); err != nil {
		t.Fatalf("SetItemEnabled failed: %v", err)
	}
	if got := metrics.GetGaugeValue(otel.MetricContextTokens); got != 3 {
		t.Errorf("token gauge = %f, want 3", got)
	}

	if err := s.RemoveItem("docs", b); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if got := metrics.GetGaugeValue(otel.MetricContextItems); got != 1 {
		t.Errorf("item gauge after removal = %f, want 1", got)
	}
	if got := metrics.GetCounterValue(otel.MetricContextMutations); got != 4 {
		t.Errorf("mutation counter = %d, want 4", got)
	}
}
