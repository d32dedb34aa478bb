// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package processor 提供面向下游批量文本生成端点的 HTTP 处理器。

HTTPProcessor 满足 coalescer.Processor 的函数签名：一批请求以
{"requests":[...]} 发送，下游返回 {"results":[...]}（逐项对应）或
{"result":{...}}（整批共享同一结果）。

# 保护

  - 令牌桶限速（golang.org/x/time/rate），等待期间遵循 context
  - 熔断器（github.com/sony/gobreaker），只有 5xx、超时与传输错误计入失败，
    熔断打开时立即返回 SERVICE_UNAVAILABLE
  - 不做重试，重试策略由调用方决定

错误统一映射为 types.Error：429 为 RATE_LIMITED，401/403 为
AUTHENTICATION，400/422 为 INVALID_REQUEST，504 为 UPSTREAM_TIMEOUT，
其余为 UPSTREAM_ERROR。
*/
package processor
