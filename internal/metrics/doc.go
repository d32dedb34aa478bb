// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的网关指标采集，覆盖 HTTP 入口、
请求合并层与下游调用三个维度。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace
隔离。Collector 实现 coalescer.Recorder，可直接通过
coalescer.WithRecorder 注入。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 合并层指标：缓存命中/未命中、去重 leader/joined、按触发原因统计的批次刷新、
    批次大小分布、缓存写入失败、节省的 Token。
  - 下游指标：按错误码统计的批量调用次数与耗时。
  - 即时状态：RegisterStatsGauges 将 coalescer.Stats 暴露为 GaugeFunc。
*/
package metrics
