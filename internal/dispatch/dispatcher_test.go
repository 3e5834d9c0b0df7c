package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/internal/llm/local"
	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/planner"
	"EdgeAgent/internal/registry"
	"EdgeAgent/internal/sandbox"
	"EdgeAgent/internal/session"
)

// stubPlanner 依次返回预置的计划。
type stubPlanner struct {
	mu    sync.Mutex
	plans []*planner.Plan
	errs  []error
	calls int

	lastHistory []session.StepResult
}

func (s *stubPlanner) Plan(
	_ context.Context,
	_ string,
	_ []*manifest.Descriptor,
	history []session.StepResult,
	_ []planner.Card,
) (*planner.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHistory = history
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.plans) {
		return s.plans[len(s.plans)-1], nil
	}
	return s.plans[idx], nil
}

// stubExecutor 按工具名返回预置结果, 并记录收到的参数。
type stubExecutor struct {
	mu      sync.Mutex
	results map[string]sandbox.Result
	argsLog []map[string]any
	block   bool
}

func (s *stubExecutor) Execute(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (sandbox.Result, error) {
	if s.block {
		<-ctx.Done()
		return sandbox.Result{
			Outcome: session.OutcomeTimeout,
			Detail:  "ctx done",
		}, nil
	}
	s.mu.Lock()
	s.argsLog = append(s.argsLog, args)
	s.mu.Unlock()
	if result, ok := s.results[desc.Name]; ok {
		return result, nil
	}
	return sandbox.Result{Outcome: session.OutcomeSuccess, Output: map[string]any{"result": "ok"}}, nil
}

func buildRegistry(t *testing.T, names ...string) *registry.Registry {
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
	return registry.New(store)
}

func invoke(tool string, args map[string]any, after ...int) planner.Step {
	return planner.Step{Tool: tool, Args: args, After: after}
}

func answer(text string) *planner.Plan {
	return &planner.Plan{Steps: []planner.Step{{Answer: text}}}
}

func TestRunSuccess(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{invoke("math", map[string]any{"expression": "15*8"})}},
		answer("结果是 120"),
	}}
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"math": {Outcome: session.OutcomeSuccess, Output: map[string]any{"result": "120"}},
	}}

	d := New(plans, buildRegistry(t, "math"), exec)
	outcome, err := d.Run(context.Background(), "计算 15 * 8")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if outcome.Answer != "结果是 120" {
		t.Fatalf("回答错误: %q", outcome.Answer)
	}
	if outcome.Session.Status != session.StatusCompleted {
		t.Fatalf("期望完成状态, 实际 %s", outcome.Session.Status)
	}
	if outcome.Session.Memory().Len() != 1 {
		t.Fatalf("期望 1 条执行记录, 实际 %d", outcome.Session.Memory().Len())
	}
	// 第二轮规划必须能看到第一轮的观察。
	if len(plans.lastHistory) != 1 || plans.lastHistory[0].Tool != "math" {
		t.Fatalf("历史未传递给规划器: %+v", plans.lastHistory)
	}
}

func TestRunReplansAfterCrash(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{invoke("math", map[string]any{"expression": "bad"})}},
		answer("改用直接回答"),
	}}
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"math": {Outcome: session.OutcomeToolFault, Fault: session.FaultRuntimeCrash, Detail: "exit status 2"},
	}}

	d := New(plans, buildRegistry(t, "math"), exec)
	outcome, err := d.Run(context.Background(), "计算")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if outcome.Answer != "改用直接回答" {
		t.Fatalf("回答错误: %q", outcome.Answer)
	}
	if outcome.Rounds != 1 {
		t.Fatalf("期望消耗 1 轮重规划, 实际 %d", outcome.Rounds)
	}
	history := outcome.Session.Memory().History()
	if history[0].Fault != session.FaultRuntimeCrash {
		t.Fatalf("故障记录错误: %+v", history[0])
	}
}

func TestRunUnknownTool(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{invoke("ghost", map[string]any{})}},
		answer("没有这个工具"),
	}}
	exec := &stubExecutor{}

	d := New(plans, buildRegistry(t, "math"), exec)
	outcome, err := d.Run(context.Background(), "调用幽灵工具")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	history := outcome.Session.Memory().History()
	if len(history) != 1 || history[0].Fault != session.FaultUnknownTool {
		t.Fatalf("期望未知工具故障: %+v", history)
	}
}

func TestRunDependencySubstitution(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{
			invoke("math", map[string]any{"expression": "15*8"}),
			invoke("math", map[string]any{"expression": "2+2"}),
			invoke("math", map[string]any{"expression": "${0} + ${1}"}),
		}},
		answer("完成"),
	}}
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"math": {Outcome: session.OutcomeSuccess, Output: map[string]any{"result": "120"}},
	}}

	d := New(plans, buildRegistry(t, "math"), exec, WithMaxConcurrent(2))
	outcome, err := d.Run(context.Background(), "两步计算")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if outcome.Session.Memory().Len() != 3 {
		t.Fatalf("期望 3 条记录, 实际 %d", outcome.Session.Memory().Len())
	}

	// 第三步的占位符应当被前两步输出替换。
	var final map[string]any
	for _, record := range outcome.Session.Memory().History() {
		if record.Step == 2 {
			final = record.Args
		}
	}
	if final["expression"] != "120 + 120" {
		t.Fatalf("占位符替换错误: %v", final["expression"])
	}
}

func TestRunSkipsDependentsOfFailedStep(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{
			invoke("fetch", map[string]any{"url": "http://x"}),
			invoke("math", map[string]any{"expression": "${0}"}, 0),
		}},
		answer("绕开失败"),
	}}
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"fetch": {Outcome: session.OutcomeTimeout, Detail: "慢"},
	}}

	d := New(plans, buildRegistry(t, "math", "fetch"), exec)
	outcome, err := d.Run(context.Background(), "链式调用")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	// 依赖失败的步骤不应被执行。
	if outcome.Session.Memory().Len() != 1 {
		t.Fatalf("期望 1 条记录, 实际 %d", outcome.Session.Memory().Len())
	}
}

func TestRunExhaustsReplanBudget(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{invoke("math", map[string]any{"expression": "1"})}},
	}}
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"math": {Outcome: session.OutcomeToolFault, Fault: session.FaultRuntimeCrash},
	}}

	d := New(plans, buildRegistry(t, "math"), exec, WithMaxReplanRounds(2))
	outcome, err := d.Run(context.Background(), "永远失败")
	if err == nil {
		t.Fatal("额度耗尽应当报错")
	}
	if outcome.Session.Status != session.StatusFailed {
		t.Fatalf("期望失败状态, 实际 %s", outcome.Session.Status)
	}
	// 首轮 + 2 轮重规划, 每轮都有一条故障记录。
	if outcome.Session.Memory().Len() != 3 {
		t.Fatalf("期望 3 条记录, 实际 %d", outcome.Session.Memory().Len())
	}
}

func TestRunPlanningErrorConsumesBudget(t *testing.T) {
	plans := &stubPlanner{
		errs: []error{
			xerrors.New(xerrors.CodePlanningFailure, "模型输出残缺"),
		},
		plans: []*planner.Plan{
			nil,
			answer("第二次成功"),
		},
	}
	d := New(plans, buildRegistry(t, "math"), &stubExecutor{}, WithMaxReplanRounds(2))
	outcome, err := d.Run(context.Background(), "规划抖动")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if outcome.Answer != "第二次成功" {
		t.Fatalf("回答错误: %q", outcome.Answer)
	}
	if outcome.Rounds != 1 {
		t.Fatalf("规划失败应消耗额度: %d", outcome.Rounds)
	}
}

func TestRunTaskTimeout(t *testing.T) {
	plans := &stubPlanner{plans: []*planner.Plan{
		{Steps: []planner.Step{invoke("math", map[string]any{"expression": "1"})}},
	}}
	exec := &stubExecutor{block: true}

	d := New(plans, buildRegistry(t, "math"), exec, WithTaskTimeout(100*time.Millisecond))
	outcome, err := d.Run(context.Background(), "死循环工具")
	if err == nil {
		t.Fatal("总超时应当报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("期望超时错误码, 实际 %s", xerrors.CodeOf(err))
	}
	if outcome.Session.Status != session.StatusFailed {
		t.Fatalf("期望失败状态, 实际 %s", outcome.Session.Status)
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	const steps = 8
	var mu sync.Mutex
	running, peak := 0, 0

	plan := &planner.Plan{}
	for i := 0; i < steps; i++ {
		plan.Steps = append(plan.Steps, invoke("math", map[string]any{"expression": fmt.Sprint(i)}))
	}
	plans := &stubPlanner{plans: []*planner.Plan{plan, answer("done")}}

	exec := executorFunc(func(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (sandbox.Result, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return sandbox.Result{Outcome: session.OutcomeSuccess, Output: map[string]any{"result": "ok"}}, nil
	})

	d := New(plans, buildRegistry(t, "math"), exec, WithMaxConcurrent(2))
	if _, err := d.Run(context.Background(), "并发"); err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if peak > 2 {
		t.Fatalf("并发上限被突破: peak=%d", peak)
	}
}

// 本地推理端到端: 第一轮调用 math, 第二轮看到成功输出后作答。
func TestRunLocalPlannerAnswersFromToolOutput(t *testing.T) {
	plan := planner.New(local.NewClient())
	exec := &stubExecutor{results: map[string]sandbox.Result{
		"math": {Outcome: session.OutcomeSuccess, Output: map[string]any{"result": "120"}},
	}}

	d := New(plan, buildRegistry(t, "math"), exec)
	outcome, err := d.Run(context.Background(), "Calculate 15 * 8")
	if err != nil {
		t.Fatalf("任务失败: %v", err)
	}
	if outcome.Session.Status != session.StatusCompleted {
		t.Fatalf("期望完成状态, 实际 %s", outcome.Session.Status)
	}
	if !strings.Contains(outcome.Answer, "120") {
		t.Fatalf("回答应包含工具输出 120, 实际 %q", outcome.Answer)
	}
	if outcome.Session.Memory().Len() != 1 {
		t.Fatalf("工具应只被调用一次, 实际 %d 条记录", outcome.Session.Memory().Len())
	}
}

type executorFunc func(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (sandbox.Result, error)

func (f executorFunc) Execute(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (sandbox.Result, error) {
	return f(ctx, desc, args)
}
