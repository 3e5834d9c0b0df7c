package registry

import (
	"os"
	"path/filepath"
	"testing"

	"EdgeAgent/internal/manifest"
)

func buildStore(t *testing.T, names ...string) *manifest.Store {
	t.Helper()
	dir := t.TempDir()
	binary := filepath.Join(dir, "tool")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("写入可执行文件失败: %v", err)
	}
	for _, name := range names {
		body := "name: " + name + "\nbinary: tool\n"
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
			t.Fatalf("写入清单失败: %v", err)
		}
	}
	store, err := manifest.LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单失败: %v", err)
	}
	return store
}

func TestResolve(t *testing.T) {
	reg := New(buildStore(t, "fetch", "math", "shell"))

	desc, ok := reg.Resolve("math")
	if !ok {
		t.Fatal("期望解析到 math")
	}
	if desc.Name != "math" {
		t.Fatalf("解析结果错误: %s", desc.Name)
	}

	if _, ok := reg.Resolve("unknown"); ok {
		t.Fatal("未注册工具不应被解析")
	}
}

func TestListKeepsDiscoveryOrder(t *testing.T) {
	reg := New(buildStore(t, "fetch", "math", "shell"))
	if reg.Len() != 3 {
		t.Fatalf("期望 3 个工具, 实际 %d", reg.Len())
	}
	// WalkDir 按文件名排序, 发现顺序即字典序。
	want := []string{"fetch", "math", "shell"}
	for i, desc := range reg.List() {
		if desc.Name != want[i] {
			t.Fatalf("第 %d 个工具期望 %s, 实际 %s", i, want[i], desc.Name)
		}
		if desc.Order != i {
			t.Fatalf("发现顺序编号错误: %d != %d", desc.Order, i)
		}
	}
}
