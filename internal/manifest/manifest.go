// Package manifest 负责从工具目录加载工具清单。
// 每个工具以一份 YAML 描述自己的能力需求、资源上限与输入输出结构,
// 沙箱执行器与规划器都以这里的描述符为唯一事实来源。
package manifest

import (
	"time"

	"EdgeAgent/internal/schema"
	"EdgeAgent/pkg/capability"
)

// Limits 描述单次工具调用允许消耗的资源。
type Limits struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
	MaxMemoryMB    int `yaml:"maxMemoryMB"`
}

// Timeout 返回执行超时, 未声明时使用 fallback。
func (l Limits) Timeout(fallback time.Duration) time.Duration {
	if l.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// MemoryBytes 返回内存上限的字节数, 未声明时使用 fallbackMB。
func (l Limits) MemoryBytes(fallbackMB int) uint64 {
	mb := l.MaxMemoryMB
	if mb <= 0 {
		mb = fallbackMB
	}
	if mb <= 0 {
		return 0
	}
	return uint64(mb) * 1024 * 1024
}

// Descriptor 是一个工具的完整描述。
type Descriptor struct {
	Name         string                  `yaml:"name"`
	Description  string                  `yaml:"description"`
	Binary       string                  `yaml:"binary"`
	Capabilities []capability.Capability `yaml:"capabilities"`
	Limits       Limits                  `yaml:"limits"`
	Input        *schema.Schema          `yaml:"input"`
	Output       *schema.Schema          `yaml:"output"`

	// Source 记录清单文件的路径, Order 记录发现顺序。
	// 两者都在加载阶段填写, 不出现在 YAML 中。
	Source string `yaml:"-"`
	Order  int    `yaml:"-"`
}
