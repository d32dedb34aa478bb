// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 llmgate 的配置加载：默认值 → YAML 文件 → 环境变量
// （前缀 LLMGATE_，按 env 标签逐级拼接，例如 LLMGATE_COALESCER_BATCH_SIZE）。
// 合并层与下游配置直接复用 coalescer.Config 与 processor.Config。
package config
