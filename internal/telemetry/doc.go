// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为网关提供
// TracerProvider 和 MeterProvider（OTLP gRPC 导出）。
// 禁用时使用 noop 实现，不连接任何外部服务；合并层与 HTTP 中间件
// 始终通过全局 otel.Tracer 取得 tracer。
package telemetry
