// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 llmgate 网关的可执行入口。

# 概述

cmd/llmgate 启动请求合并网关：对外提供生成、并行生成、统计、清空与
健康检查接口，对内将请求经缓存、在途去重与批处理后转发给单一下游
生成端点。支持 YAML 配置文件与 LLMGATE_ 前缀的环境变量覆盖。

# 核心类型

  - Server: 组装合并层、下游处理器与 HTTP、Metrics 双端口
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、MetricsMiddleware、
    SecurityHeaders、RequestLogger、JWTAuth 或 APIKeyAuth、RateLimiter、ModelOverride
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：停止接收请求 → 排空合并层批次 → 刷新遥测 → 关闭 Metrics
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
