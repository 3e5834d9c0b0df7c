// Package session 维护一次任务执行的会话状态。
// 会话记录任务目标、调度状态机的当前位置、已消耗的重规划
// 轮数, 以及一份只增不改的执行记忆。
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 表示会话在调度状态机中的位置。
type Status string

const (
	StatusPlanning       Status = "planning"
	StatusExecuting      Status = "executing"
	StatusAwaitingReplan Status = "awaiting_replan"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome 表示单步执行的结局分类。
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeToolFault        Outcome = "tool_fault"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeResourceExceeded Outcome = "resource_exceeded"
)

// FaultKind 细分工具故障的原因。仅当 Outcome 为 tool_fault 时有效。
type FaultKind string

const (
	FaultNone             FaultKind = ""
	FaultInvalidArguments FaultKind = "invalid_arguments"
	FaultInvalidOutput    FaultKind = "invalid_output"
	FaultUnknownTool      FaultKind = "unknown_tool"
	FaultRuntimeCrash     FaultKind = "runtime_crash"
)

// StepResult 是一次工具调用的完整结果。
type StepResult struct {
	Round    int
	Step     int
	Tool     string
	Args     map[string]any
	Outcome  Outcome
	Fault    FaultKind
	Output   map[string]any
	Detail   string
	Duration time.Duration
}

// Succeeded 判断该步是否成功。
func (r StepResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Primary 返回该步输出中的主结果。约定取 result 字段,
// 缺失时回退为整个输出的 JSON 表示。
func (r StepResult) Primary() string {
	if r.Output == nil {
		return ""
	}
	if value, ok := r.Output["result"]; ok {
		switch v := value.(type) {
		case string:
			return v
		default:
			return fmt.Sprint(v)
		}
	}
	encoded, err := json.Marshal(r.Output)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// Session 是一次任务执行的可变状态。
// 状态迁移只由调度器驱动, 记忆可以被并发写入。
type Session struct {
	ID        string
	Goal      string
	Status    Status
	Rounds    int
	StartedAt time.Time

	memory *Memory
}

// New 创建一个处于规划状态的新会话。
func New(goal string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    StatusPlanning,
		StartedAt: time.Now(),
		memory:    &Memory{},
	}
}

// Memory 返回会话的执行记忆。
func (s *Session) Memory() *Memory {
	return s.memory
}

// Memory 是只增不改的执行记录。写入按完成顺序, 不回填不修改。
type Memory struct {
	mu      sync.Mutex
	records []StepResult
}

// Record 追加一条执行记录。
func (m *Memory) Record(result StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, result)
}

// History 按完成顺序返回全部记录的副本。
func (m *Memory) History() []StepResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StepResult, len(m.records))
	copy(out, m.records)
	return out
}

// Len 返回记录条数。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Ordered 返回按轮次与计划步骤排序的副本, 用于呈现给规划器。
// 存储顺序保持完成顺序不变。
func (m *Memory) Ordered() []StepResult {
	out := m.History()
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if a.Round < b.Round || (a.Round == b.Round && a.Step <= b.Step) {
				break
			}
			out[j-1], out[j] = b, a
		}
	}
	return out
}
