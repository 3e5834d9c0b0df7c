package schema

import "testing"

func objectSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"operation": {Type: "string", Enum: []any{"add", "multiply"}},
			"operands":  {Type: "array", Items: &Schema{Type: "number"}},
			"precision": {Type: "integer"},
			"verbose":   {Type: "boolean"},
		},
		Required: []string{"operation", "operands"},
	}
}

func TestValidateAccepts(t *testing.T) {
	value := map[string]any{
		"operation": "multiply",
		"operands":  []any{float64(15), float64(8)},
		"precision": float64(2),
		"verbose":   true,
	}
	if err := objectSchema().Validate(value); err != nil {
		t.Fatalf("合法取值校验失败: %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	value := map[string]any{"operation": "add"}
	err := objectSchema().Validate(value)
	if err == nil {
		t.Fatal("期望缺少必填字段报错")
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	cases := []struct {
		name  string
		value map[string]any
	}{
		{"操作符非字符串", map[string]any{"operation": float64(1), "operands": []any{}}},
		{"操作数非数组", map[string]any{"operation": "add", "operands": "1,2"}},
		{"数组元素非数值", map[string]any{"operation": "add", "operands": []any{"one"}}},
		{"精度非整数", map[string]any{"operation": "add", "operands": []any{}, "precision": float64(1.5)}},
	}
	for _, tc := range cases {
		if err := objectSchema().Validate(tc.value); err == nil {
			t.Fatalf("%s: 期望校验失败", tc.name)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	value := map[string]any{"operation": "divide", "operands": []any{}}
	if err := objectSchema().Validate(value); err == nil {
		t.Fatal("期望枚举校验失败")
	}
}

func TestValidateNilSchemaAllowsEverything(t *testing.T) {
	var s *Schema
	if err := s.Validate(map[string]any{"anything": true}); err != nil {
		t.Fatalf("空约束不应报错: %v", err)
	}
}

func TestValidateYAMLIntegers(t *testing.T) {
	// YAML 解码产出 int 而非 float64, 数值类型需要同时兼容。
	s := &Schema{Type: "number"}
	if err := s.Validate(42); err != nil {
		t.Fatalf("int 取值校验失败: %v", err)
	}
}
