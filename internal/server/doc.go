// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供网关 HTTP/HTTPS 服务器的生命周期管理。

Manager 封装 net/http.Server：Start 非阻塞启动，配置证书时使用
tlsutil 加固的 TLS 配置；Shutdown 先排空 HTTP 连接，再按注册顺序
执行 OnShutdown 注册的钩子（例如关闭合并层以刷新剩余批次、关闭遥测导出器）；
WaitForShutdown 监听 SIGINT/SIGTERM、服务异常与 context 取消。
*/
package server
