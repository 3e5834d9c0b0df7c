package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"EdgeAgent/internal/agent"
	"EdgeAgent/internal/api"
	"EdgeAgent/internal/config"
	"EdgeAgent/internal/dispatch"
	"EdgeAgent/internal/knowledge"
	"EdgeAgent/internal/llm"
	"EdgeAgent/internal/llm/local"
	"EdgeAgent/internal/llm/openai"
	"EdgeAgent/internal/manifest"
	"EdgeAgent/internal/observability/alerting"
	"EdgeAgent/internal/planner"
	"EdgeAgent/internal/registry"
	"EdgeAgent/internal/sandbox"
	"EdgeAgent/internal/task"
	"EdgeAgent/pkg/logger"
)

// main 是 EdgeAgent 守护进程的入口。除默认的 serve 模式外,
// 还提供若干一次性子命令方便调试与运维。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		mode = args[0]
		args = args[1:]
	}

	if err := run(ctx, mode, args); err != nil {
		log.Fatalf("edgeagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context, mode string, args []string) error {
	configPath := os.Getenv("EDGEAGENT_CONFIG")
	explicit := configPath != ""
	if configPath == "" {
		configPath = filepath.Join("configs", "edgeagent.json")
	}

	// 默认路径没有配置文件时用内置默认值启动, 方便一次性子命令。
	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(configPath); statErr != nil && !explicit {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	// 一次性子命令把结构化日志压到 stderr, stdout 只输出结果。
	if mode == "serve" {
		err = logger.Init(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: cfg.Logging.OutputPaths,
			Audit: logger.AuditConfig{
				Enabled: cfg.Logging.AuditPath != "",
				Path:    cfg.Logging.AuditPath,
			},
		})
	} else {
		err = logger.InitQuiet("warn")
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	ag, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}

	switch mode {
	case "serve":
		return serve(ctx, cfg, ag)
	case "task":
		if len(args) == 0 {
			return errors.New("用法: edgeagentd task <目标描述>")
		}
		return runTask(ctx, ag, strings.Join(args, " "))
	case "interactive":
		return runInteractive(ctx, ag)
	case "tools":
		return printJSON(ag.Tools())
	case "status", "health":
		health := ag.Health()
		if err := printJSON(health); err != nil {
			return err
		}
		if mode == "health" && !health.Ready {
			os.Exit(1)
		}
		return nil
	default:
		return fmt.Errorf("未知的子命令: %s", mode)
	}
}

// buildAgent 装配所有运行时组件: 工具清单、推理后端、规划器、
// 沙箱执行器与调度器。
func buildAgent(ctx context.Context, cfg *config.Config) (*agent.Agent, error) {
	store, err := manifest.LoadAll(cfg.Tools.Dir)
	if err != nil {
		return nil, err
	}
	if cfg.Tools.HealthCheck {
		store, err = manifest.HealthCheck(ctx, store)
		if err != nil {
			return nil, err
		}
	}
	reg := registry.New(store)

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}

	plan := planner.New(llmClient,
		planner.WithMaxTokens(cfg.Agent.MaxTokens),
		planner.WithMemoryDepth(cfg.Agent.MemoryDepth),
	)

	executor := sandbox.New(
		sandbox.WithScratchRoot(cfg.Tools.ScratchDir),
		sandbox.WithDefaultTimeout(cfg.Tools.DefaultTimeout()),
		sandbox.WithDefaultMemoryMB(cfg.Tools.DefaultMaxMemoryMB),
		sandbox.WithPolicy(cfg.Tools.Policy.CapabilityPolicy()),
	)

	opts := []dispatch.Option{
		dispatch.WithMaxReplanRounds(cfg.Agent.MaxReplanRounds),
		dispatch.WithMaxConcurrent(cfg.Tools.MaxConcurrent),
		dispatch.WithTaskTimeout(cfg.Agent.TaskTimeout()),
	}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatch.WithKnowledge(provider))
	}

	dispatcher := dispatch.New(plan, reg, executor, opts...)
	return agent.New(dispatcher, reg, agent.WithProvider(cfg.LLM.Provider)), nil
}

// serve 启动任务队列、处理器与 REST 服务, 直到收到退出信号。
func serve(ctx context.Context, cfg *config.Config, ag *agent.Agent) error {
	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(task.MySQLStoreConfig{
			DSN:          cfg.Storage.TaskStore.DSN,
			MaxOpenConns: cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns: cfg.Storage.TaskStore.MaxIdleConns,
		})
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}()

	var taskQueue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
	defer func() {
		if taskQueue != nil {
			if err := taskQueue.Close(); err != nil {
				logger.L().Error("关闭任务队列失败", "error", err)
			}
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL))
	}
	alerter := alerting.NewFanout(notifiers...)

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithAlertDispatcher(alerter),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	logger.L().Info("edgeagentd 已启动",
		"address", cfg.Server.Address,
		"tools", ag.Health().Tools,
		"provider", cfg.LLM.Provider,
	)

	server := api.NewServer(cfg.Server.Address, taskService, ag)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runTask 同步执行一个任务并把结果打印到 stdout。
func runTask(ctx context.Context, ag *agent.Agent, goal string) error {
	result, err := ag.Execute(ctx, agent.TaskRequest{Goal: goal})
	if err != nil {
		return err
	}
	return printJSON(result)
}

// runInteractive 从标准输入循环读取任务目标。
func runInteractive(ctx context.Context, ag *agent.Agent) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("输入任务目标, 空行退出。")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		goal := strings.TrimSpace(scanner.Text())
		if goal == "" {
			return nil
		}
		result, err := ag.Execute(ctx, agent.TaskRequest{Goal: goal})
		if err != nil {
			fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
			continue
		}
		if err := printJSON(result); err != nil {
			return err
		}
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(value)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "local":
		return local.NewClient(), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
