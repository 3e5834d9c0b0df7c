package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQueryMatchesKeywords(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "算术", Content: "math 工具支持四则运算", Keywords: []string{"计算", "算术"}},
		{Title: "抓取", Content: "fetch 工具访问 HTTP", Keywords: []string{"http", "抓取"}},
	}, 3)

	results := provider.Query("帮我计算 15*8")
	if len(results) != 1 || results[0].Title != "算术" {
		t.Fatalf("关键词匹配错误: %+v", results)
	}
}

func TestQueryRespectsMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}, 2)

	// 没有关键词的条目对任何目标都命中。
	if got := len(provider.Query("anything")); got != 2 {
		t.Fatalf("期望截断到 2 条, 实际 %d", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	payload := `[{"title":"算术","content":"math 工具","keywords":["计算"]}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("写入知识库失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("加载知识库失败: %v", err)
	}
	if len(provider.Query("计算 2+2")) != 1 {
		t.Fatal("加载后的知识库检索失败")
	}
}

func TestLoadStaticProviderEmptyPath(t *testing.T) {
	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatal("空路径应当报错")
	}
}
