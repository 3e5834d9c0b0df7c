package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}
	return path
}

func writeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("写入可执行文件失败: %v", err)
	}
	return path
}

const mathManifest = `
name: math
description: 四则运算
binary: math-tool
capabilities: []
limits:
  timeoutSeconds: 5
  maxMemoryMB: 64
input:
  type: object
  properties:
    operation:
      type: string
  required:
    - operation
output:
  type: object
`

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeBinary(t, dir, "math-tool")
	writeManifest(t, dir, "math.yaml", mathManifest)

	store, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单目录失败: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("期望 1 个工具, 实际 %d", store.Len())
	}

	desc := store.Descriptors()[0]
	if desc.Name != "math" {
		t.Fatalf("期望工具名 math, 实际 %s", desc.Name)
	}
	if got := desc.Limits.Timeout(30 * time.Second); got != 5*time.Second {
		t.Fatalf("期望超时 5s, 实际 %v", got)
	}
	if got := desc.Limits.MemoryBytes(256); got != 64*1024*1024 {
		t.Fatalf("期望内存上限 64MB, 实际 %d", got)
	}
	if desc.Input == nil || desc.Input.Type != "object" {
		t.Fatal("输入约束未解析")
	}
}

func TestLoadAllSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeBinary(t, dir, "math-tool")
	writeManifest(t, dir, "math.yaml", mathManifest)
	writeManifest(t, dir, "broken.yaml", "name: [not valid\n")
	writeManifest(t, dir, "nameless.yaml", "binary: math-tool\n")
	writeManifest(t, dir, "ghost.yaml", "name: ghost\nbinary: no-such-binary\n")

	store, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("损坏清单不应导致整体失败: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("期望只剩 1 个工具, 实际 %d", store.Len())
	}
}

func TestLoadAllFirstDuplicateWins(t *testing.T) {
	dir := t.TempDir()
	writeBinary(t, dir, "math-tool")
	// WalkDir 按文件名排序, a.yaml 先于 b.yaml 被发现。
	writeManifest(t, dir, "a.yaml", "name: math\ndescription: first\nbinary: math-tool\n")
	writeManifest(t, dir, "b.yaml", "name: math\ndescription: second\nbinary: math-tool\n")

	store, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单目录失败: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("期望去重后 1 个工具, 实际 %d", store.Len())
	}
	if store.Descriptors()[0].Description != "first" {
		t.Fatalf("期望保留先发现的清单, 实际 %s", store.Descriptors()[0].Description)
	}
}

func TestLoadAllEmptyDirFails(t *testing.T) {
	if _, err := LoadAll(t.TempDir()); err == nil {
		t.Fatal("空目录应当报错")
	}
}

func TestLoadAllMissingDirFails(t *testing.T) {
	if _, err := LoadAll(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("不存在的目录应当报错")
	}
}
