// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 为下游 HTTP 客户端与网关服务端提供集中式 TLS 配置
// （TLS 1.2+，仅 AEAD 密码套件）以及连接池参数。
package tlsutil
