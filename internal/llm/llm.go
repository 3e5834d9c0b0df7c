package llm

import "context"

// Request 描述一次文本补全请求。提示词由规划层负责拼装,
// 这里只承载与后端交互所需的最小信息。
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response 是后端返回的补全结果。
type Response struct {
	Text            string
	TokensGenerated int
	ModelInfo       string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
