// Package dispatch 实现任务调度状态机。
// 一次任务从规划开始, 执行计划中的工具调用, 根据执行结局
// 在有限的重规划轮数内迭代, 直到产出最终回答或宣告失败。
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/internal/knowledge"
	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/planner"
	"EdgeAgent/internal/registry"
	"EdgeAgent/internal/sandbox"
	"EdgeAgent/internal/session"
	"EdgeAgent/pkg/logger"
)

// Executor 抽象沙箱执行器, 测试时用桩替换。
type Executor interface {
	Execute(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (sandbox.Result, error)
}

// Planner 抽象规划器。
type Planner interface {
	Plan(
		ctx context.Context,
		goal string,
		tools []*manifest.Descriptor,
		history []session.StepResult,
		cards []planner.Card,
	) (*planner.Plan, error)
}

// Outcome 是一次任务调度的最终结果。
type Outcome struct {
	Session *session.Session
	Answer  string
	Rounds  int
}

// Option 配置调度器的可选参数。
type Option func(*Dispatcher)

// WithMaxReplanRounds 限制重规划轮数。
func WithMaxReplanRounds(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxReplanRounds = n
		}
	}
}

// WithMaxConcurrent 限制同时运行的沙箱进程数。
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// WithTaskTimeout 限制单个任务的总时长。
func WithTaskTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.taskTimeout = d
		}
	}
}

// WithKnowledge 为规划器接入知识库。
func WithKnowledge(provider knowledge.Provider) Option {
	return func(d *Dispatcher) {
		d.knowledge = provider
	}
}

// Dispatcher 驱动单个任务走完整个状态机。
type Dispatcher struct {
	planner   Planner
	registry  *registry.Registry
	executor  Executor
	knowledge knowledge.Provider

	maxReplanRounds int
	maxConcurrent   int
	taskTimeout     time.Duration
}

// New 创建调度器。
func New(p Planner, reg *registry.Registry, exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		planner:         p,
		registry:        reg,
		executor:        exec,
		maxReplanRounds: 3,
		maxConcurrent:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run 执行一个任务直到终态。状态迁移:
// 规划 → 执行 → (完成 | 等待重规划 → 规划 | 失败)。
// 每一轮故障消耗一次重规划额度, 额度耗尽或总超时则失败。
func (d *Dispatcher) Run(ctx context.Context, goal string) (*Outcome, error) {
	log := logger.Named("dispatch")
	sess := session.New(goal)
	outcome := &Outcome{Session: sess}

	if d.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
		defer cancel()
	}

	var cards []planner.Card
	if d.knowledge != nil {
		for _, snippet := range d.knowledge.Query(goal) {
			cards = append(cards, planner.Card{Title: snippet.Title, Content: snippet.Content})
		}
	}

	// 首轮规划不计入重规划额度。
	for round := 0; round <= d.maxReplanRounds; round++ {
		if err := ctx.Err(); err != nil {
			sess.Status = session.StatusFailed
			return outcome, xerrors.Wrap(xerrors.CodeTimeout, err, "任务总时长超限")
		}

		sess.Status = session.StatusPlanning
		sess.Rounds = round
		outcome.Rounds = round

		plan, err := d.planner.Plan(ctx, goal, d.registry.List(), sess.Memory().Ordered(), cards)
		if err != nil {
			log.Warn("规划失败", "session", sess.ID, "round", round, "error", err)
			if round == d.maxReplanRounds {
				sess.Status = session.StatusFailed
				return outcome, err
			}
			sess.Status = session.StatusAwaitingReplan
			continue
		}

		if answer, ok := plan.Direct(); ok {
			sess.Status = session.StatusCompleted
			outcome.Answer = answer
			log.Info("任务完成", "session", sess.ID, "rounds", round)
			return outcome, nil
		}

		sess.Status = session.StatusExecuting
		faulted, err := d.executePlan(ctx, sess, round, plan)
		if err != nil {
			sess.Status = session.StatusFailed
			return outcome, err
		}

		if round == d.maxReplanRounds {
			break
		}
		if faulted {
			sess.Status = session.StatusAwaitingReplan
			log.Info("工具故障, 进入重规划", "session", sess.ID, "round", round)
		}
		// 全部成功时同样回到规划, 让规划器基于观察给出最终回答。
	}

	sess.Status = session.StatusFailed
	return outcome, xerrors.New(xerrors.CodePlanningFailure,
		fmt.Sprintf("重规划 %d 轮后仍未得到最终回答", d.maxReplanRounds))
}

// executePlan 按依赖分波执行计划, 波内并发且受并发上限约束。
// 返回本轮是否出现故障; 只有任务级超时才作为 error 返回。
func (d *Dispatcher) executePlan(ctx context.Context, sess *session.Session, round int, plan *planner.Plan) (bool, error) {
	type stepState struct {
		executed bool
		success  bool
	}

	states := make([]stepState, len(plan.Steps))
	outputs := make(map[int]string, len(plan.Steps))
	var outputsMu sync.Mutex

	faulted := false
	sem := make(chan struct{}, d.maxConcurrent)

	for {
		if err := ctx.Err(); err != nil {
			return false, xerrors.Wrap(xerrors.CodeTimeout, err, "任务总时长超限")
		}

		// 找出所有依赖已成功完成的待执行步骤。
		var ready []int
		for i := range plan.Steps {
			if states[i].executed {
				continue
			}
			runnable := true
			for _, dep := range plan.Steps[i].After {
				if !states[dep].executed || !states[dep].success {
					runnable = false
					break
				}
			}
			if runnable {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			// 剩余步骤的依赖已经失败, 不再执行。
			break
		}

		var wg sync.WaitGroup
		for _, idx := range ready {
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int) {
				defer wg.Done()
				defer func() { <-sem }()

				step := plan.Steps[idx]
				outputsMu.Lock()
				args := planner.SubstitutePlaceholders(step.Args, outputs)
				outputsMu.Unlock()

				result := d.executeStep(ctx, step, args)
				record := session.StepResult{
					Round:    round,
					Step:     idx,
					Tool:     step.Tool,
					Args:     args,
					Outcome:  result.Outcome,
					Fault:    result.Fault,
					Output:   result.Output,
					Detail:   result.Detail,
					Duration: result.Duration,
				}
				sess.Memory().Record(record)

				outputsMu.Lock()
				states[idx].executed = true
				states[idx].success = record.Succeeded()
				if record.Succeeded() {
					outputs[idx] = result.Primary()
				}
				outputsMu.Unlock()
			}(idx)
		}
		wg.Wait()

		for _, idx := range ready {
			if !states[idx].success {
				faulted = true
			}
		}
		if faulted {
			// 故障后不再启动后续波次, 留给重规划处理。
			break
		}
	}

	return faulted, nil
}

// executeStep 解析工具并交给沙箱。未注册的工具名是规划幻觉,
// 归类为工具故障而不是调度错误。
func (d *Dispatcher) executeStep(ctx context.Context, step planner.Step, args map[string]any) sandbox.Result {
	desc, ok := d.registry.Resolve(step.Tool)
	if !ok {
		return sandbox.Result{
			Outcome: session.OutcomeToolFault,
			Fault:   session.FaultUnknownTool,
			Detail:  fmt.Sprintf("工具 %q 未注册", step.Tool),
		}
	}

	result, err := d.executor.Execute(ctx, desc, args)
	if err != nil {
		// 沙箱自身故障按运行崩溃记录, 让重规划有机会绕开。
		return sandbox.Result{
			Outcome: session.OutcomeToolFault,
			Fault:   session.FaultRuntimeCrash,
			Detail:  err.Error(),
		}
	}
	return result
}
