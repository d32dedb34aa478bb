// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供网关各层共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api、cmd 等上层模块
提供统一的请求、响应与错误契约。

# 核心类型

  - Request: 发往下游生成端点的原始请求（Prompt 或 Messages）
  - Response: 下游对单个请求的结果，Cached 标记缓存命中
  - Message / Role   : 对话消息
  - Usage: Token 用量
  - Error / ErrorCode: 结构化错误，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable / IsCleared
  - 常用错误构造：NewConfigurationError / NewInvalidRequestError
*/
package types
