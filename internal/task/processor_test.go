package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"EdgeAgent/internal/agent"
	xerrors "EdgeAgent/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	failures  atomic.Int32
	failFirst int32
	failErr   error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.TaskRequest) (*agent.TaskResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failures.Load() < f.failFirst {
		f.failures.Add(1)
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, xerrors.New(CodeTaskProcessing, "模拟执行失败")
	}
	f.processed.Add(1)
	return &agent.TaskResult{
		Goal:      req.Goal,
		Answer:    "ok",
		ToolsUsed: []string{"math"},
		Rounds:    1,
	}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		goal := fmt.Sprintf("goal-%d", i)
		if _, err := service.Submit(ctx, agent.TaskRequest{Goal: goal}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{failFirst: 1}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	submitted, err := service.Submit(ctx, agent.TaskRequest{Goal: "retry me"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("任务应在重试后成功，实际状态 %s (%s)", task.Status, task.LastError)
	}
	if task.Attempts != 2 {
		t.Fatalf("期望尝试 2 次，实际 %d", task.Attempts)
	}
	if task.Result == nil || task.Result.Answer != "ok" {
		t.Fatalf("任务缺少执行结果: %+v", task.Result)
	}
	cancel()
}

func TestProcessorStopsOnNonRetryableFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{
		failFirst: 10,
		failErr:   xerrors.New(CodeTaskValidation, "目标不合法"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	submitted, err := service.Submit(ctx, agent.TaskRequest{Goal: "bad goal"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if task.Status != StatusFailed {
		t.Fatalf("任务应为失败状态，实际 %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Fatalf("不可重试错误不应重投，实际尝试 %d 次", task.Attempts)
	}
	if task.ErrorCode != string(CodeTaskValidation) {
		t.Fatalf("未记录错误码: %q", task.ErrorCode)
	}
	cancel()
}

type fallbackRecovery struct{}

func (fallbackRecovery) Recover(_ context.Context, task *Task, _ error) (*ExecutionResult, error) {
	return &ExecutionResult{Answer: "降级回答", Observations: "fallback for " + task.ID}, nil
}

func TestProcessorRecoversToFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{
		failFirst: 10,
		failErr:   xerrors.New(CodeTaskValidation, "目标不合法"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithRecoveryHandler(fallbackRecovery{}),
	)

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	submitted, err := service.Submit(ctx, agent.TaskRequest{Goal: "degrade me"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("降级后任务应标记成功，实际 %s", task.Status)
	}
	if task.Result == nil || task.Result.Answer != "降级回答" {
		t.Fatalf("未记录降级结果: %+v", task.Result)
	}
	cancel()
}
