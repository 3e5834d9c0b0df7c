package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"EdgeAgent/internal/dispatch"
	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/registry"
	"EdgeAgent/internal/session"
)

type stubDispatcher struct {
	outcome *dispatch.Outcome
	err     error
}

func (s *stubDispatcher) Run(_ context.Context, goal string) (*dispatch.Outcome, error) {
	if s.err != nil {
		return s.outcome, s.err
	}
	return s.outcome, nil
}

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	binary := filepath.Join(dir, "tool")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("写入可执行文件失败: %v", err)
	}
	body := "name: math\ndescription: 四则运算\nbinary: tool\ncapabilities: [execution]\n"
	if err := os.WriteFile(filepath.Join(dir, "math.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}
	store, err := manifest.LoadAll(dir)
	if err != nil {
		t.Fatalf("加载清单失败: %v", err)
	}
	return registry.New(store)
}

func completedOutcome(answer string) *dispatch.Outcome {
	sess := session.New("计算 15*8")
	sess.Status = session.StatusCompleted
	sess.Memory().Record(session.StepResult{
		Round: 0, Step: 0, Tool: "math",
		Outcome: session.OutcomeSuccess,
		Output:  map[string]any{"result": "120"},
	})
	return &dispatch.Outcome{Session: sess, Answer: answer, Rounds: 1}
}

func TestExecute(t *testing.T) {
	ag := New(&stubDispatcher{outcome: completedOutcome("结果是 120")}, buildRegistry(t))

	result, err := ag.Execute(context.Background(), TaskRequest{Goal: "计算 15*8"})
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if result.Answer != "结果是 120" {
		t.Fatalf("回答错误: %q", result.Answer)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "math" {
		t.Fatalf("工具统计错误: %v", result.ToolsUsed)
	}
	if !strings.Contains(result.Observations, "math") {
		t.Fatalf("观察文本缺少工具信息: %q", result.Observations)
	}
	if result.CreatedAt == 0 {
		t.Fatal("缺少创建时间")
	}
}

func TestExecuteRejectsEmptyGoal(t *testing.T) {
	ag := New(&stubDispatcher{outcome: completedOutcome("x")}, buildRegistry(t))
	if _, err := ag.Execute(context.Background(), TaskRequest{Goal: "   "}); err == nil {
		t.Fatal("空目标应当报错")
	}
}

func TestTools(t *testing.T) {
	ag := New(&stubDispatcher{}, buildRegistry(t))
	tools := ag.Tools()
	if len(tools) != 1 {
		t.Fatalf("期望 1 个工具, 实际 %d", len(tools))
	}
	if tools[0].Name != "math" || tools[0].Capabilities[0] != "execution" {
		t.Fatalf("工具摘要错误: %+v", tools[0])
	}
}

func TestHealth(t *testing.T) {
	ag := New(&stubDispatcher{}, buildRegistry(t), WithProvider("openai"))
	health := ag.Health()
	if !health.Ready || health.Tools != 1 || health.Provider != "openai" {
		t.Fatalf("健康状态错误: %+v", health)
	}
}
