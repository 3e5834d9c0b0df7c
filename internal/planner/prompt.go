package planner

import (
	"fmt"
	"strings"

	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/session"
)

const systemPrompt = "" +
	"You are EdgeAgent's planning engine. " +
	"Respond with a compact JSON object describing tool invocations: " +
	"{\"steps\": [{\"tool\": string, \"args\": object, \"after\": [int], \"reason\": string}]}. " +
	"A single invocation may be returned as {\"tool\": ..., \"args\": ...}. " +
	"When no tool is needed, answer directly with {\"answer\": string}. " +
	"Reference an earlier step's output with \"${N}\" inside string arguments."

// Card 是提供给规划器的知识切片。
type Card struct {
	Title   string
	Content string
}

// buildPrompt 把目标、工具清单、历史记录与知识切片拼成用户提示词。
func buildPrompt(goal string, tools []*manifest.Descriptor, history []session.StepResult, cards []Card, depth int) string {
	var builder strings.Builder

	builder.WriteString("可用工具:\n")
	for _, tool := range tools {
		builder.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, strings.TrimSpace(tool.Description)))
		if tool.Input != nil && len(tool.Input.Required) > 0 {
			builder.WriteString(fmt.Sprintf("  必填参数: %s\n", strings.Join(tool.Input.Required, ", ")))
		}
	}

	builder.WriteString("\n## 当前任务\n")
	builder.WriteString(fmt.Sprintf("目标: %s\n", strings.TrimSpace(goal)))

	if len(history) > 0 {
		builder.WriteString("\n## 历史执行\n")
		start := 0
		if depth > 0 && len(history) > depth {
			start = len(history) - depth
		}
		for idx, entry := range history[start:] {
			builder.WriteString(fmt.Sprintf("[%d] 工具:%s | 结局:%s", idx+1, entry.Tool, entry.Outcome))
			if entry.Fault != session.FaultNone {
				builder.WriteString(fmt.Sprintf(" | 故障:%s", entry.Fault))
			}
			if entry.Succeeded() {
				if output := truncate(entry.Primary()); output != "" {
					builder.WriteString(fmt.Sprintf(" | 输出:%s", output))
				}
			}
			if detail := truncate(entry.Detail); detail != "" {
				builder.WriteString(fmt.Sprintf(" | 详情:%s", detail))
			}
			builder.WriteString("\n")
		}
	}

	if len(cards) > 0 {
		builder.WriteString("\n## 知识库\n")
		for idx, card := range cards {
			builder.WriteString(fmt.Sprintf("[%d] %s: %s\n",
				idx+1,
				strings.TrimSpace(card.Title),
				truncate(card.Content),
			))
			if idx >= 4 {
				break
			}
		}
	}

	builder.WriteString("\n请给出下一轮最合理的执行计划。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
