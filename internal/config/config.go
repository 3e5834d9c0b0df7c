package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"EdgeAgent/pkg/capability"
)

// Config 描述了 EdgeAgent 在启动阶段需要加载的核心配置。
// 配置在进程启动时读取一次，之后视为只读。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Tools     ToolsConfig     `json:"tools"`
	LLM       LLMConfig       `json:"llm"`
	Agent     AgentConfig     `json:"agent"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Storage   StorageConfig   `json:"storage"`
	Alerting  AlertingConfig  `json:"alerting"`
	Knowledge KnowledgeConfig `json:"knowledge"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// ToolsConfig 描述工具清单目录与沙箱执行参数。
type ToolsConfig struct {
	Dir                   string       `json:"dir"`
	ScratchDir            string       `json:"scratch_dir"`
	MaxConcurrent         int          `json:"max_concurrent"`
	DefaultTimeoutSeconds int          `json:"default_timeout_seconds"`
	DefaultMaxMemoryMB    int          `json:"default_max_memory_mb"`
	HealthCheck           bool         `json:"health_check"`
	Policy                PolicyConfig `json:"policy"`
}

// PolicyConfig 限定工具清单可以申请的能力范围。
// 两个列表都为空时允许所有已知能力。
type PolicyConfig struct {
	AllowedCapabilities []string `json:"allowed_capabilities"`
	DeniedCapabilities  []string `json:"denied_capabilities"`
}

// CapabilityPolicy 把配置转换为沙箱使用的能力策略。环境变量
// EDGEAGENT_ALLOWED_CAPABILITIES 与 EDGEAGENT_DENIED_CAPABILITIES
// (逗号分隔) 优先于配置文件的取值。
func (c PolicyConfig) CapabilityPolicy() capability.Policy {
	env := capability.Policy{
		AllowedCapabilities: splitCapabilities(os.Getenv("EDGEAGENT_ALLOWED_CAPABILITIES")),
		DeniedCapabilities:  splitCapabilities(os.Getenv("EDGEAGENT_DENIED_CAPABILITIES")),
	}
	file := capability.Policy{
		AllowedCapabilities: toCapabilities(c.AllowedCapabilities),
		DeniedCapabilities:  toCapabilities(c.DeniedCapabilities),
	}
	return env.Merge(file)
}

func splitCapabilities(raw string) []capability.Capability {
	if raw == "" {
		return nil
	}
	var caps []capability.Capability
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			caps = append(caps, capability.Capability(item))
		}
	}
	return caps
}

func toCapabilities(items []string) []capability.Capability {
	if len(items) == 0 {
		return nil
	}
	caps := make([]capability.Capability, 0, len(items))
	for _, item := range items {
		caps = append(caps, capability.Capability(item))
	}
	return caps
}

// DefaultTimeout 返回工具未声明时采用的执行超时。
func (c ToolsConfig) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// LLMConfig 用于配置规划所依赖的大模型推理后端。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI 兼容 API 完成推理时所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 控制调度器的重规划与会话参数。
type AgentConfig struct {
	MaxReplanRounds    int `json:"max_replan_rounds"`
	MemoryDepth        int `json:"memory_depth"`
	TaskTimeoutSeconds int `json:"task_timeout_seconds"`
	MaxTokens          int `json:"max_tokens"`
}

// TaskTimeout 返回单个任务允许的总时长。
func (c AgentConfig) TaskTimeout() time.Duration {
	if c.TaskTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// TaskQueueConfig 描述任务队列的驱动与连接参数。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// StorageConfig 统一描述任务存储后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 默认提供内存实现，也可以切换到 MySQL。
type TaskStoreConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	Retries      int    `json:"retries"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// AlertingConfig 控制告警通知渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// KnowledgeConfig 指定静态提示卡片的来源文件。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// Load 负责解析指定路径的 JSON 配置文件，并应用环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回一份无需配置文件即可运行的默认配置，供 CLI 一次性命令使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults(".")
	return cfg
}

// applyEnvOverrides 读取环境变量覆盖项。环境变量优先于配置文件。
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("EDGEAGENT_TOOLS_DIR"); dir != "" {
		c.Tools.Dir = dir
	}
	if key := os.Getenv("EDGEAGENT_OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if provider := os.Getenv("EDGEAGENT_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if raw := os.Getenv("EDGEAGENT_MAX_CONCURRENT"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			c.Tools.MaxConcurrent = parsed
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tools.Dir == "" {
		c.Tools.Dir = filepath.Join(baseDir, "tools")
	} else if !filepath.IsAbs(c.Tools.Dir) {
		c.Tools.Dir = filepath.Join(baseDir, c.Tools.Dir)
	}
	if c.Tools.ScratchDir == "" {
		c.Tools.ScratchDir = os.TempDir()
	}
	if c.Tools.MaxConcurrent <= 0 {
		c.Tools.MaxConcurrent = runtime.NumCPU()
	}
	if c.Tools.DefaultTimeoutSeconds <= 0 {
		c.Tools.DefaultTimeoutSeconds = 30
	}
	if c.Tools.DefaultMaxMemoryMB <= 0 {
		c.Tools.DefaultMaxMemoryMB = 256
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "local"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "EDGEAGENT_OPENAI_API_KEY"
	}

	if c.Agent.MaxReplanRounds <= 0 {
		c.Agent.MaxReplanRounds = 3
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if c.Agent.TaskTimeoutSeconds <= 0 {
		c.Agent.TaskTimeoutSeconds = 300
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 512
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
}
