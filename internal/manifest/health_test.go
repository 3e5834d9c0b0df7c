package manifest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const fetchLikeManifest = `
name: fetch
description: 抓取 URL
binary: fetch-tool
capabilities:
  - network
input:
  type: object
output:
  type: object
`

func TestHealthCheckExcludesBrokenBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("依赖 shell 脚本作为工具")
	}

	dir := t.TempDir()
	writeBinary(t, dir, "math-tool")
	writeManifest(t, dir, "math.yaml", mathManifest)

	// 有执行权限但不是合法脚本, Start 会失败。
	broken := filepath.Join(dir, "fetch-tool")
	if err := os.WriteFile(broken, []byte{0x00, 0x01}, 0o755); err != nil {
		t.Fatalf("写入损坏文件失败: %v", err)
	}
	writeManifest(t, dir, "fetch.yaml", fetchLikeManifest)

	store, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单目录失败: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("期望加载 2 个工具, 实际 %d", store.Len())
	}

	healthy, err := HealthCheck(context.Background(), store)
	if err != nil {
		t.Fatalf("健康检查失败: %v", err)
	}
	if healthy.Len() != 1 {
		t.Fatalf("期望保留 1 个健康工具, 实际 %d", healthy.Len())
	}
	if healthy.Descriptors()[0].Name != "math" {
		t.Fatalf("保留了错误的工具: %s", healthy.Descriptors()[0].Name)
	}
	if healthy.Descriptors()[0].Order != 0 {
		t.Fatalf("健康工具应重排发现顺序, 实际 Order=%d", healthy.Descriptors()[0].Order)
	}
}

func TestHealthCheckAllBrokenFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("依赖 shell 脚本作为工具")
	}

	dir := t.TempDir()
	broken := filepath.Join(dir, "math-tool")
	if err := os.WriteFile(broken, []byte{0x00, 0x01}, 0o755); err != nil {
		t.Fatalf("写入损坏文件失败: %v", err)
	}
	writeManifest(t, dir, "math.yaml", mathManifest)

	store, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单目录失败: %v", err)
	}

	if _, err := HealthCheck(context.Background(), store); err == nil {
		t.Fatalf("全部工具不健康时应返回错误")
	}
}
