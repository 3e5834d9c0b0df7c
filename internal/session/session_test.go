package session

import (
	"sync"
	"testing"
)

func TestNewSession(t *testing.T) {
	sess := New("计算 15 * 8")
	if sess.ID == "" {
		t.Fatal("会话 ID 不能为空")
	}
	if sess.Status != StatusPlanning {
		t.Fatalf("新会话应处于规划状态, 实际 %s", sess.Status)
	}
	if sess.Status.Terminal() {
		t.Fatal("规划状态不是终态")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("完成与失败应为终态")
	}
}

func TestMemoryAppendOnly(t *testing.T) {
	mem := &Memory{}
	mem.Record(StepResult{Round: 0, Step: 0, Tool: "math", Outcome: OutcomeSuccess})
	mem.Record(StepResult{Round: 0, Step: 1, Tool: "fetch", Outcome: OutcomeTimeout})

	history := mem.History()
	if len(history) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d", len(history))
	}

	// 修改副本不能影响记忆本身。
	history[0].Tool = "mutated"
	if mem.History()[0].Tool != "math" {
		t.Fatal("History 必须返回副本")
	}
}

func TestMemoryOrdered(t *testing.T) {
	mem := &Memory{}
	// 完成顺序与计划顺序不同: 并发执行时后面的步骤可能先完成。
	mem.Record(StepResult{Round: 0, Step: 2, Tool: "c"})
	mem.Record(StepResult{Round: 0, Step: 0, Tool: "a"})
	mem.Record(StepResult{Round: 1, Step: 0, Tool: "d"})
	mem.Record(StepResult{Round: 0, Step: 1, Tool: "b"})

	ordered := mem.Ordered()
	want := []string{"a", "b", "c", "d"}
	for i, result := range ordered {
		if result.Tool != want[i] {
			t.Fatalf("第 %d 条期望 %s, 实际 %s", i, want[i], result.Tool)
		}
	}

	// 存储顺序保持完成顺序。
	if mem.History()[0].Tool != "c" {
		t.Fatal("存储顺序被破坏")
	}
}

func TestMemoryConcurrentRecord(t *testing.T) {
	mem := &Memory{}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			mem.Record(StepResult{Step: step, Outcome: OutcomeSuccess})
		}(i)
	}
	wg.Wait()

	if mem.Len() != 32 {
		t.Fatalf("期望 32 条记录, 实际 %d", mem.Len())
	}
}

func TestStepResultSucceeded(t *testing.T) {
	ok := StepResult{Outcome: OutcomeSuccess}
	if !ok.Succeeded() {
		t.Fatal("成功结果判定错误")
	}
	fault := StepResult{Outcome: OutcomeToolFault, Fault: FaultRuntimeCrash}
	if fault.Succeeded() {
		t.Fatal("故障结果判定错误")
	}
}
