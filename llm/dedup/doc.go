// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 dedup 合并并发发出的相同请求：同一指纹同一时刻最多一次下游执行，
所有并发调用方收到同一个结果或同一个错误。

# 概述

Group 基于 golang.org/x/sync/singleflight，在其之上维护每个键的等待者计数，
并提供 Clear 让所有挂起的调用方立即以 ErrCleared 返回。

执行结束即移除记录，之后的同键调用会重新执行；长期复用结果由 cache 包负责。

# 取消语义

共享执行运行在 context.WithoutCancel 派生的 context 上，首个调用方取消
不会影响其他等待者；每个调用方的 ctx 只决定自己何时放弃等待。
*/
package dedup
