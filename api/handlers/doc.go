// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供网关 HTTP API 的请求处理器实现。

# 概述

handlers 包实现合并网关所有 HTTP 端点的处理逻辑：单请求生成、
并行生成、统计、清空以及健康检查。所有 Handler 均遵循标准
net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - GatewayHandler: 生成、并行生成、统计与清空
  - HealthHandler: 服务健康检查（/health, /healthz, /ready）
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo: 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck: 可插拔健康检查接口，NewCheck 将函数包装为检查项

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（大小限制 + 严格模式）、ValidateContentType、RequireMethod
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 模型覆盖：请求未指定 model 时使用上下文中的模型
*/
package handlers
