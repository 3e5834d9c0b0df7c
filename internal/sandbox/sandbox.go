// Package sandbox 在受控子进程中执行工具。
// 每次调用都会拉起一个全新进程: 独立的临时工作目录、
// 清洗过的环境变量, 以及按清单声明授予的能力开关。
// 进程间协议极简: 参数以 JSON 写入标准输入, 结果以
// JSON 对象写回标准输出。
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/observability/metrics"
	"EdgeAgent/internal/session"
	"EdgeAgent/pkg/capability"
	"EdgeAgent/pkg/logger"
)

// stderr 只保留开头一段用于诊断。
const maxStderrBytes = 4096

// Result 是一次沙箱执行的结果, 与会话记忆中的结局分类一致。
type Result struct {
	Outcome  session.Outcome
	Fault    session.FaultKind
	Output   map[string]any
	Detail   string
	Duration time.Duration
}

// Primary 返回用于 ${N} 占位符替换的主输出。
// 约定工具把主结果放在 result 字段, 没有时退化为整个输出的 JSON。
func (r Result) Primary() string {
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

// Option 配置执行器的可选参数。
type Option func(*Executor)

// WithScratchRoot 指定临时工作目录的父目录。
func WithScratchRoot(dir string) Option {
	return func(e *Executor) {
		if dir != "" {
			e.scratchRoot = dir
		}
	}
}

// WithDefaultTimeout 指定清单未声明时的执行超时。
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithDefaultMemoryMB 指定清单未声明时的内存上限。
func WithDefaultMemoryMB(mb int) Option {
	return func(e *Executor) {
		if mb > 0 {
			e.defaultMemoryMB = mb
		}
	}
}

// WithPolicy 指定全局能力策略, 清单申请的能力必须通过策略校验。
func WithPolicy(policy capability.Policy) Option {
	return func(e *Executor) {
		e.policy = policy
	}
}

// Executor 负责把工具调用放进沙箱执行。
type Executor struct {
	scratchRoot     string
	defaultTimeout  time.Duration
	defaultMemoryMB int
	policy          capability.Policy
}

// New 创建沙箱执行器。
func New(opts ...Option) *Executor {
	e := &Executor{
		scratchRoot:     os.TempDir(),
		defaultTimeout:  30 * time.Second,
		defaultMemoryMB: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 在沙箱中运行一次工具调用。返回值总是一个确定的结局,
// 只有沙箱自身无法工作时才返回 error。
func (e *Executor) Execute(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (Result, error) {
	result, err := e.execute(ctx, desc, args)
	if err == nil {
		metrics.ObserveToolExecution(desc.Name, string(result.Outcome), result.Duration)
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, desc *manifest.Descriptor, args map[string]any) (Result, error) {
	log := logger.Named("sandbox")
	start := time.Now()

	fault := func(kind session.FaultKind, detail string) Result {
		return Result{
			Outcome:  session.OutcomeToolFault,
			Fault:    kind,
			Detail:   detail,
			Duration: time.Since(start),
		}
	}

	// 进程拉起之前先把参数挡在门外。
	if err := desc.Input.Validate(toAnyMap(args)); err != nil {
		return fault(session.FaultInvalidArguments, err.Error()), nil
	}
	if err := e.policy.Validate(desc.Capabilities); err != nil {
		return fault(session.FaultInvalidArguments, fmt.Sprintf("能力策略拒绝: %v", err)), nil
	}

	stdin, err := json.Marshal(args)
	if err != nil {
		return fault(session.FaultInvalidArguments, fmt.Sprintf("参数无法序列化: %v", err)), nil
	}

	scratch, err := os.MkdirTemp(e.scratchRoot, "edgeagent-")
	if err != nil {
		return Result{}, fmt.Errorf("创建临时工作目录失败: %w", err)
	}
	defer os.RemoveAll(scratch)

	timeout := desc.Limits.Timeout(e.defaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, desc.Binary)
	cmd.Dir = scratch
	cmd.Env = e.buildEnv(scratch, desc.Capabilities)
	cmd.Stdin = bytes.NewReader(stdin)
	// 工具的孤儿子进程可能继续持有标准输出, 不能让 Wait 被拖住。
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("启动工具进程失败: %w", err)
	}

	// 内存监视与进程等待并行。监视器超限时直接杀掉进程。
	memLimit := desc.Limits.MemoryBytes(e.defaultMemoryMB)
	watcher := newMemoryWatcher(cmd.Process.Pid, memLimit)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if watcher.watch(runCtx) {
			_ = cmd.Process.Kill()
		}
	}()

	waitErr := cmd.Wait()
	cancel()
	<-watchDone
	elapsed := time.Since(start)

	switch {
	case watcher.exceeded():
		log.Warn("工具超出内存上限", "tool", desc.Name, "limit_bytes", memLimit)
		return Result{
			Outcome:  session.OutcomeResourceExceeded,
			Detail:   fmt.Sprintf("常驻内存超过 %d MB 上限", memLimit/(1024*1024)),
			Duration: elapsed,
		}, nil
	case runCtx.Err() == context.DeadlineExceeded:
		log.Warn("工具执行超时", "tool", desc.Name, "timeout", timeout)
		return Result{
			Outcome:  session.OutcomeTimeout,
			Detail:   fmt.Sprintf("执行超过 %s 上限", timeout),
			Duration: elapsed,
		}, nil
	case waitErr != nil:
		detail := strings.TrimSpace(truncateBytes(stderr.Bytes(), maxStderrBytes))
		if detail == "" {
			detail = waitErr.Error()
		}
		result := fault(session.FaultRuntimeCrash, detail)
		result.Duration = elapsed
		return result, nil
	}

	var output map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		result := fault(session.FaultInvalidOutput, fmt.Sprintf("标准输出不是 JSON 对象: %v", err))
		result.Duration = elapsed
		return result, nil
	}
	if err := desc.Output.Validate(output); err != nil {
		result := fault(session.FaultInvalidOutput, err.Error())
		result.Duration = elapsed
		return result, nil
	}

	return Result{
		Outcome:  session.OutcomeSuccess,
		Output:   output,
		Duration: elapsed,
	}, nil
}

// buildEnv 构造清洗过的环境: 只保留 PATH, 工作目录相关变量
// 指向临时目录, 授予的能力以环境开关传递给工具。
func (e *Executor) buildEnv(scratch string, caps []capability.Capability) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"EDGEAGENT_SCRATCH=" + scratch,
	}
	for _, cap := range caps {
		env = append(env, cap.EnvVar()+"=1")
	}
	return env
}

// toAnyMap 兼容 nil 参数, 校验器只认识 map[string]any。
func toAnyMap(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func truncateBytes(raw []byte, limit int) string {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	return string(raw)
}
