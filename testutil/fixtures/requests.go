// =============================================================================
// 📦 测试数据工厂 - 请求与响应
// =============================================================================
package fixtures

import "github.com/BaSui01/llmgate/types"

// DefaultModel 样例请求使用的模型
const DefaultModel = "gpt-4o-mini"

// Request 返回单轮 prompt 请求
func Request(prompt string) *types.Request {
	return &types.Request{Model: DefaultModel, Prompt: prompt}
}

// RequestFor 返回指定模型与端点的请求
func RequestFor(model, endpoint, prompt string) *types.Request {
	return &types.Request{Model: model, Endpoint: endpoint, Prompt: prompt}
}

// ChatRequest 返回带 system 指令的多轮请求
func ChatRequest(system, user string) *types.Request {
	return &types.Request{
		Model: DefaultModel,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: system},
			{Role: types.RoleUser, Content: user},
		},
	}
}

// Response 返回简单文本响应
func Response(content string) *types.Response {
	return &types.Response{
		ID:           "resp-001",
		Model:        DefaultModel,
		Content:      content,
		FinishReason: "stop",
		Usage:        types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}
