package types

import "strings"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 是一次发往下游文本生成端点的原始请求。
// Prompt 与 Messages 二选一；两者都给出时以 Messages 为准。
type Request struct {
	Model       string         `json:"model,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Prompt      string         `json:"prompt,omitempty"`
	Messages    []Message      `json:"messages,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Text 返回请求的全部文本内容，用于 Token 估算。
func (r *Request) Text() string {
	if r == nil {
		return ""
	}
	if len(r.Messages) == 0 {
		return r.Prompt
	}
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Usage 记录下游返回的 Token 用量。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Response 是下游处理单个请求的结果。
type Response struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage,omitempty"`
	// Cached 为 true 表示结果来自本地缓存，未触发下游调用
	Cached bool `json:"cached,omitempty"`
}

// Clone returns a shallow copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
