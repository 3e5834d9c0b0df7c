package planner

import (
	"fmt"
	"regexp"
	"strconv"
)

// Step 是计划中的一步。Tool 非空表示调用工具,
// 否则该步是对用户的直接回答。
type Step struct {
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	After  []int          `json:"after,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Answer string         `json:"answer,omitempty"`
}

// IsAnswer 判断该步是否为直接回答。
func (s Step) IsAnswer() bool {
	return s.Tool == ""
}

// Plan 是规划器产出的一轮执行计划。
type Plan struct {
	Steps []Step
}

// Direct 在计划只包含一个直接回答时返回该回答。
func (p *Plan) Direct() (string, bool) {
	if len(p.Steps) == 1 && p.Steps[0].IsAnswer() {
		return p.Steps[0].Answer, true
	}
	return "", false
}

// placeholderPattern 匹配字符串参数中的 ${N} 占位符,
// N 指向同一计划中更早步骤的输出。
var placeholderPattern = regexp.MustCompile(`\$\{(\d+)\}`)

// normalize 补全隐式依赖并校验计划结构。
// 直接回答必须独占一个计划; 依赖只能指向更早的步骤,
// 因此计划内不可能出现环。
func (p *Plan) normalize() error {
	answers := 0
	for i := range p.Steps {
		if p.Steps[i].IsAnswer() {
			answers++
			if p.Steps[i].Answer == "" {
				return fmt.Errorf("第 %d 步既没有工具也没有回答", i)
			}
			continue
		}

		step := &p.Steps[i]
		deps := map[int]bool{}
		for _, ref := range step.After {
			deps[ref] = true
		}
		for _, value := range step.Args {
			text, ok := value.(string)
			if !ok {
				continue
			}
			for _, match := range placeholderPattern.FindAllStringSubmatch(text, -1) {
				ref, err := strconv.Atoi(match[1])
				if err != nil {
					continue
				}
				deps[ref] = true
			}
		}

		step.After = step.After[:0]
		for ref := range deps {
			if ref < 0 || ref >= i {
				return fmt.Errorf("第 %d 步依赖了非法步骤 %d", i, ref)
			}
			step.After = append(step.After, ref)
		}
	}

	if answers > 0 && len(p.Steps) != 1 {
		return fmt.Errorf("直接回答不能与工具调用混排")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("计划为空")
	}
	return nil
}

// SubstitutePlaceholders 将字符串参数中的 ${N} 替换为对应步骤的输出。
// outputs 以步骤编号为键, 值为该步骤的主输出文本。
func SubstitutePlaceholders(args map[string]any, outputs map[int]string) map[string]any {
	if len(args) == 0 {
		return args
	}
	resolved := make(map[string]any, len(args))
	for key, value := range args {
		text, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}
		resolved[key] = placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
			ref, err := strconv.Atoi(placeholderPattern.FindStringSubmatch(match)[1])
			if err != nil {
				return match
			}
			if out, present := outputs[ref]; present {
				return out
			}
			return match
		})
	}
	return resolved
}
