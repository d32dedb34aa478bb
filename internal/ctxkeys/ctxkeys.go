// Package ctxkeys 定义网关在 context 中传递的请求级元数据键。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	subjectKey   contextKey = "subject"
	modelKey     contextKey = "model"
)

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID，转发到下游的 X-Request-ID 头
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, traceIDKey)
}

// WithSubject 设置已认证的调用方标识（JWT sub 或 API Key 名称）
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject 获取调用方标识
func Subject(ctx context.Context) (string, bool) {
	return stringValue(ctx, subjectKey)
}

// WithModel 设置模型覆盖，请求未指定模型时使用
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model 获取模型覆盖
func Model(ctx context.Context) (string, bool) {
	return stringValue(ctx, modelKey)
}
