package local

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"EdgeAgent/internal/llm"
)

const toolMenu = "可用工具:\n- math: 四则运算\n- fetch: HTTP 请求\n- shell: 执行命令\n"

func complete(t *testing.T, goal string) string {
	t.Helper()
	client := NewClient()
	resp, err := client.Complete(context.Background(), llm.Request{
		Prompt: toolMenu + "\n目标: " + goal + "\n",
	})
	if err != nil {
		t.Fatalf("本地推理失败: %v", err)
	}
	return resp.Text
}

func TestCompleteMathExpression(t *testing.T) {
	text := complete(t, "计算 15 * 8")

	var decoded struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("期望 JSON 工具调用, 实际 %q", text)
	}
	if decoded.Tool != "math" {
		t.Fatalf("期望调用 math, 实际 %s", decoded.Tool)
	}
	expr, _ := decoded.Args["expression"].(string)
	if !strings.Contains(expr, "15 * 8") {
		t.Fatalf("表达式提取错误: %q", expr)
	}
}

func TestCompleteMathAnswersAfterSuccess(t *testing.T) {
	client := NewClient()
	resp, err := client.Complete(context.Background(), llm.Request{
		Prompt: toolMenu +
			"\n目标: Calculate 15 * 8\n" +
			"\n## 历史执行\n[1] 工具:math | 结局:success | 输出:120\n",
	})
	if err != nil {
		t.Fatalf("本地推理失败: %v", err)
	}

	var decoded struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &decoded); err != nil {
		t.Fatalf("期望 JSON 回答, 实际 %q", resp.Text)
	}
	if decoded.Answer == "" {
		t.Fatalf("已有成功输出时应直接作答, 实际 %q", resp.Text)
	}
	if !strings.Contains(decoded.Answer, "120") {
		t.Fatalf("回答应包含工具输出 120, 实际 %q", decoded.Answer)
	}
}

func TestCompleteFetchURL(t *testing.T) {
	text := complete(t, "抓取 https://example.com/data.json 的内容")

	var decoded struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("期望 JSON 工具调用, 实际 %q", text)
	}
	if decoded.Tool != "fetch" {
		t.Fatalf("期望调用 fetch, 实际 %s", decoded.Tool)
	}
	if decoded.Args["url"] != "https://example.com/data.json" {
		t.Fatalf("URL 提取错误: %v", decoded.Args["url"])
	}
}

func TestCompleteFallsBackToText(t *testing.T) {
	text := complete(t, "介绍一下你自己")
	if strings.HasPrefix(text, "{") {
		t.Fatalf("无工具可用时应返回纯文本, 实际 %q", text)
	}
}

func TestCompleteDeterministic(t *testing.T) {
	first := complete(t, "计算 15 * 8")
	second := complete(t, "计算 15 * 8")
	if first != second {
		t.Fatalf("本地推理必须是确定性的: %q != %q", first, second)
	}
}
