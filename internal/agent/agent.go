package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"EdgeAgent/internal/dispatch"
	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/internal/registry"
	"EdgeAgent/internal/session"
)

// TaskRequest 描述了一个智能体任务。
type TaskRequest struct {
	ID       string         `json:"id,omitempty"`
	Goal     string         `json:"goal"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult 汇总一次任务执行的最终结果。
type TaskResult struct {
	Goal         string   `json:"goal"`
	Answer       string   `json:"answer"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
	Rounds       int      `json:"rounds"`
	Observations string   `json:"observations,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

// ToolInfo 是对外暴露的工具摘要。
type ToolInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HealthStatus 描述智能体的就绪情况。
type HealthStatus struct {
	Ready    bool   `json:"ready"`
	Tools    int    `json:"tools"`
	Provider string `json:"provider"`
}

// Dispatcher 抽象任务调度器, 测试时用桩替换。
type Dispatcher interface {
	Run(ctx context.Context, goal string) (*dispatch.Outcome, error)
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithProvider 记录推理后端名称, 只用于健康检查展示。
func WithProvider(name string) Option {
	return func(a *Agent) {
		a.provider = name
	}
}

// Agent 是调度器之上的业务门面。
type Agent struct {
	dispatcher Dispatcher
	registry   *registry.Registry
	provider   string
}

// New 创建一个 Agent。
func New(dispatcher Dispatcher, reg *registry.Registry, opts ...Option) *Agent {
	ag := &Agent{
		dispatcher: dispatcher,
		registry:   reg,
		provider:   "local",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Execute 驱动一个任务走到终态并汇总结果。
func (a *Agent) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if a.dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任务调度器")
	}
	if strings.TrimSpace(req.Goal) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务目标不能为空")
	}

	outcome, err := a.dispatcher.Run(ctx, req.Goal)
	if err != nil {
		return nil, err
	}

	result := &TaskResult{
		Goal:      req.Goal,
		Answer:    outcome.Answer,
		Rounds:    outcome.Rounds,
		CreatedAt: time.Now().Unix(),
	}

	if outcome.Session != nil {
		history := outcome.Session.Memory().Ordered()
		result.ToolsUsed = collectTools(history)
		result.Observations = summarize(history)
	}
	return result, nil
}

// Tools 返回已注册工具的摘要, 按发现顺序排列。
func (a *Agent) Tools() []ToolInfo {
	descriptors := a.registry.List()
	infos := make([]ToolInfo, 0, len(descriptors))
	for _, desc := range descriptors {
		info := ToolInfo{
			Name:        desc.Name,
			Description: desc.Description,
		}
		for _, cap := range desc.Capabilities {
			info.Capabilities = append(info.Capabilities, string(cap))
		}
		infos = append(infos, info)
	}
	return infos
}

// Health 报告智能体是否就绪。
func (a *Agent) Health() HealthStatus {
	return HealthStatus{
		Ready:    a.dispatcher != nil && a.registry.Len() > 0,
		Tools:    a.registry.Len(),
		Provider: a.provider,
	}
}

// collectTools 提取执行成功的工具名并去重, 保持首次出现顺序。
func collectTools(history []session.StepResult) []string {
	seen := map[string]bool{}
	var tools []string
	for _, record := range history {
		if !record.Succeeded() || record.Tool == "" || seen[record.Tool] {
			continue
		}
		seen[record.Tool] = true
		tools = append(tools, record.Tool)
	}
	return tools
}

// summarize 把执行记录压缩成一段可读的观察文本。
func summarize(history []session.StepResult) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history))
	for _, record := range history {
		line := fmt.Sprintf("[轮%d/步%d] %s: %s", record.Round, record.Step, record.Tool, record.Outcome)
		if record.Fault != session.FaultNone {
			line += fmt.Sprintf(" (%s)", record.Fault)
		}
		if detail := strings.TrimSpace(record.Detail); detail != "" {
			line += " " + detail
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
