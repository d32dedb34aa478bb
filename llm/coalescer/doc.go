// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 coalescer 是请求合并层的对外入口，位于慢速、限流的下游文本生成端点之前，
通过三种手段减少下游调用：

  - 缓存：以请求指纹为键保存成功结果（TTL + 严格 LRU）；
  - 在途去重：同一指纹的并发请求只触发一次下游执行，结果扇出给所有等待者；
  - 批处理：兼容请求（同一 模型@端点）按批大小或等待时间聚合为一次调用，
    批次在有界并发下执行。

# 调用流程

	Execute(req)
	  → 指纹
	  → 缓存命中则直接返回副本（Cached=true）
	  → 加入或发起在途执行
	  → 进入分组批次，等待按大小或超时提交
	  → 结果按位置分发，成功结果回填缓存

ProcessParallel 绕过缓存与批处理，以有界并发逐个调用处理器，
结果顺序与输入一致，单个失败只体现在对应位置。

# 错误

调用方只会看到处理器原样返回的错误、CLEARED（Clear 时仍在等待）、
CLOSED（Close 之后）以及请求本身非法的 INVALID_REQUEST。
缓存写入失败只记录日志并计数。

# 使用方式

	c, err := coalescer.New(coalescer.DefaultConfig(), proc.Process,
	    coalescer.WithLogger(logger),
	    coalescer.WithRecorder(collector),
	)
	if err != nil {
	    return err
	}
	defer c.Close()

	resp, err := c.Execute(ctx, &types.Request{Model: "gpt-4o-mini", Prompt: "hello"})
*/
package coalescer
