// Package local 提供一个无需外部依赖的本地推理实现。
// 它基于提示词做确定性的启发式规划, 用于离线开发、
// 演示环境以及没有网络的边缘节点。
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"EdgeAgent/internal/llm"
)

const modelInfo = "edgeagent-local v0.1.0 (heuristic)"

// Client 按提示词内容模拟一个会调用工具的规划模型。
type Client struct{}

// NewClient 创建本地模拟客户端。
func NewClient() *Client {
	return &Client{}
}

// Complete 分析提示词并返回确定性的规划结果。
// 提示词中包含工具清单与目标描述, 这里按优先级匹配:
// 算术表达式优先走 math 工具, URL 走 fetch, 文件罗列走 shell,
// 其余情况直接给出文字回答。历史执行中已有匹配工具的成功输出时,
// 不再重复调用, 直接基于输出作答。
func (c *Client) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	prompt := strings.ToLower(req.Prompt)
	goal := extractGoal(req.Prompt)

	var text string
	switch {
	case hasTool(prompt, "math") && containsExpression(goal):
		if output, ok := successOutput(req.Prompt, "math"); ok {
			text = answerFromOutput(output)
		} else {
			text = invocation("math", map[string]any{"expression": normalizeExpression(goal)}, "检测到算术表达式")
		}
	case hasTool(prompt, "fetch") && strings.Contains(prompt, "http"):
		if output, ok := successOutput(req.Prompt, "fetch"); ok {
			text = answerFromOutput(output)
		} else {
			text = invocation("fetch", map[string]any{"url": extractURL(goal)}, "检测到 HTTP 请求")
		}
	case hasTool(prompt, "shell") && (strings.Contains(prompt, "list") || strings.Contains(prompt, "文件")):
		if output, ok := successOutput(req.Prompt, "shell"); ok {
			text = answerFromOutput(output)
		} else {
			text = invocation("shell", map[string]any{"command": "ls -la"}, "需要列出文件")
		}
	default:
		text = fmt.Sprintf("我理解你的目标是: %s。当前没有合适的工具, 直接给出建议。", strings.TrimSpace(goal))
	}

	return &llm.Response{
		Text:            text,
		TokensGenerated: len([]rune(text)),
		ModelInfo:       modelInfo,
	}, nil
}

// invocation 以规划器认识的 JSON 形式输出单步工具调用。
func invocation(tool string, args map[string]any, reason string) string {
	payload, _ := json.Marshal(map[string]any{
		"tool":   tool,
		"args":   args,
		"reason": reason,
	})
	return string(payload)
}

// answer 以规划器认识的 JSON 形式输出最终回答。
func answer(text string) string {
	payload, _ := json.Marshal(map[string]any{"answer": text})
	return string(payload)
}

// answerFromOutput 把成功的工具输出组织成最终回答。
func answerFromOutput(output string) string {
	if output == "" {
		return answer("工具已成功执行, 但没有返回输出。")
	}
	return answer(fmt.Sprintf("根据工具执行结果, 答案是 %s。", output))
}

// successOutput 在提示词的历史执行段中查找某工具最近一次
// 成功记录, 并提取其输出字段。
func successOutput(prompt, tool string) (string, bool) {
	var output string
	var found bool
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, "工具:"+tool) || !strings.Contains(trimmed, "结局:success") {
			continue
		}
		found = true
		output = ""
		for _, segment := range strings.Split(trimmed, " | ") {
			if rest, ok := strings.CutPrefix(segment, "输出:"); ok {
				output = strings.TrimSpace(rest)
			}
		}
	}
	return output, found
}

// extractGoal 从提示词中取出目标描述行。
func extractGoal(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "目标:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return prompt
}

// hasTool 判断工具清单中是否出现某个工具。
func hasTool(prompt, name string) bool {
	return strings.Contains(prompt, "- "+name+":")
}

func containsExpression(goal string) bool {
	hasDigit := strings.ContainsAny(goal, "0123456789")
	hasOperator := strings.ContainsAny(goal, "+-*/")
	return hasDigit && hasOperator
}

// normalizeExpression 截取目标中的算术片段。
func normalizeExpression(goal string) string {
	var builder strings.Builder
	for _, r := range goal {
		switch {
		case r >= '0' && r <= '9',
			r == '+' || r == '-' || r == '*' || r == '/',
			r == '(' || r == ')' || r == '.' || r == ' ':
			builder.WriteRune(r)
		}
	}
	expr := strings.TrimSpace(builder.String())
	if expr == "" {
		return goal
	}
	return expr
}

func extractURL(goal string) string {
	for _, field := range strings.Fields(goal) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,;")
		}
	}
	return "http://example.com"
}
