// Package schema 实现了工具清单中输入输出结构的校验。
// 清单使用 JSON Schema 的一个子集描述参数, 这里只实现沙箱
// 执行路径真正需要的关键字: type, properties, required,
// items, enum。
package schema

import (
	"fmt"
	"math"
)

// Schema 描述一个结构约束节点。清单中以 YAML 形式内嵌,
// 解码后即为这里的树状结构。
type Schema struct {
	Type       string             `yaml:"type" json:"type"`
	Properties map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required   []string           `yaml:"required,omitempty" json:"required,omitempty"`
	Items      *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Enum       []any              `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Validate 校验 value 是否满足约束。返回的错误信息中带有
// 出错位置的路径, 便于直接反馈给调用方。
func (s *Schema) Validate(value any) error {
	if s == nil {
		return nil
	}
	return s.validate("$", value)
}

func (s *Schema) validate(path string, value any) error {
	if len(s.Enum) > 0 {
		if !enumContains(s.Enum, value) {
			return fmt.Errorf("%s: 取值不在枚举范围内", path)
		}
	}

	switch s.Type {
	case "", "any":
		return nil
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: 期望对象类型", path)
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("%s: 缺少必填字段 %q", path, name)
			}
		}
		for name, child := range s.Properties {
			fieldValue, present := obj[name]
			if !present {
				continue
			}
			if err := child.validate(path+"."+name, fieldValue); err != nil {
				return err
			}
		}
		return nil
	case "array":
		list, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: 期望数组类型", path)
		}
		if s.Items != nil {
			for i, item := range list {
				if err := s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
					return err
				}
			}
		}
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: 期望字符串类型", path)
		}
		return nil
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("%s: 期望数值类型", path)
		}
		return nil
	case "integer":
		num, ok := asFloat(value)
		if !ok || num != math.Trunc(num) {
			return fmt.Errorf("%s: 期望整数类型", path)
		}
		return nil
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: 期望布尔类型", path)
		}
		return nil
	default:
		return fmt.Errorf("%s: 不支持的类型约束 %q", path, s.Type)
	}
}

// isNumber 兼容 JSON 与 YAML 两种解码器产出的数值表示。
func isNumber(value any) bool {
	_, ok := asFloat(value)
	return ok
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if equalValue(candidate, value) {
			return true
		}
	}
	return false
}

func equalValue(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}
