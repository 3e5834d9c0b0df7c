// Package planner 把大模型的自由文本输出翻译成结构化执行计划。
// 解析按三种策略依次尝试: JSON、"Use tool: X with args: Y" 式
// 结构化文本、纯文本直接回答。以 { 或 [ 开头却无法解码的输出
// 视为规划失败, 其余文本一律当作直接回答。
package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	xerrors "EdgeAgent/internal/errors"
	"EdgeAgent/internal/llm"
	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/session"
)

// Option 配置规划器的可选参数。
type Option func(*Planner)

// WithMaxTokens 限制单次推理生成的 token 数。
func WithMaxTokens(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithMemoryDepth 限制呈现给模型的历史条数。
func WithMemoryDepth(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.memoryDepth = n
		}
	}
}

// Planner 通过大模型客户端为任务生成执行计划。
type Planner struct {
	client      llm.Client
	maxTokens   int
	memoryDepth int
}

// New 创建规划器。
func New(client llm.Client, opts ...Option) *Planner {
	p := &Planner{
		client:      client,
		maxTokens:   512,
		memoryDepth: 5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan 为目标生成一轮执行计划。history 为此前各轮的执行记录,
// cards 为可选的知识切片。
func (p *Planner) Plan(
	ctx context.Context,
	goal string,
	tools []*manifest.Descriptor,
	history []session.StepResult,
	cards []Card,
) (*Plan, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(goal, tools, history, cards, p.memoryDepth),
		MaxTokens:   p.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlanningFailure, err, "调用推理后端失败")
	}

	plan, err := Parse(resp.Text)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Parse 把模型输出解析为计划。
func Parse(text string) (*Plan, error) {
	trimmed := strings.TrimSpace(stripCodeFence(text))
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodePlanningFailure, "模型输出为空")
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		plan, err := parseJSON(trimmed)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePlanningFailure, err, "模型输出疑似 JSON 但无法解析")
		}
		if err := plan.normalize(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePlanningFailure, err, "计划结构非法")
		}
		return plan, nil
	}

	if plan, ok := parseStructuredText(trimmed); ok {
		if err := plan.normalize(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePlanningFailure, err, "计划结构非法")
		}
		return plan, nil
	}

	// 纯文本视为直接回答。
	return &Plan{Steps: []Step{{Answer: trimmed}}}, nil
}

// stripCodeFence 去掉 Markdown 代码块包装。模型经常把 JSON
// 包在 ```json ... ``` 里返回。
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// parseJSON 依次尝试三种 JSON 形态: 完整计划对象、单步对象、步骤数组。
func parseJSON(text string) (*Plan, error) {
	type wirePlan struct {
		Steps  []Step `json:"steps"`
		Answer string `json:"answer"`
	}

	if strings.HasPrefix(text, "{") {
		var wire wirePlan
		if err := json.Unmarshal([]byte(text), &wire); err == nil {
			if len(wire.Steps) > 0 {
				return &Plan{Steps: wire.Steps}, nil
			}
			if wire.Answer != "" {
				return &Plan{Steps: []Step{{Answer: wire.Answer}}}, nil
			}
		}

		var single Step
		if err := json.Unmarshal([]byte(text), &single); err != nil {
			return nil, err
		}
		return &Plan{Steps: []Step{single}}, nil
	}

	var steps []Step
	if err := json.Unmarshal([]byte(text), &steps); err != nil {
		return nil, err
	}
	return &Plan{Steps: steps}, nil
}

var structuredLinePattern = regexp.MustCompile(`(?i)use\s+tool:\s*(\w+)\s+with\s+args?:\s*(.+)`)

// parseStructuredText 解析 "Use tool: math with args: {...}" 形式的行。
// 参数部分优先按 JSON 对象解码, 否则整体作为 input 字段。
func parseStructuredText(text string) (*Plan, bool) {
	var steps []Step
	for _, line := range strings.Split(text, "\n") {
		match := structuredLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		rawArgs := strings.TrimSpace(match[2])
		args := map[string]any{}
		if strings.HasPrefix(rawArgs, "{") {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				args = map[string]any{"input": rawArgs}
			}
		} else {
			args = map[string]any{"input": rawArgs}
		}
		steps = append(steps, Step{Tool: match[1], Args: args})
	}
	if len(steps) == 0 {
		return nil, false
	}
	return &Plan{Steps: steps}, true
}
