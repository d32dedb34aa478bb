// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 提供按分组键聚合请求的批处理能力，将短时间内到达的兼容请求
合并为一次下游调用，减少对限流端点的请求次数。

# 概述

Accumulator 为每个分组键（如 模型@端点）维护一个积累中的批次。
批次在以下任一条件满足时被摘下并提交，先到先触发：

  - 条目数达到 MaxBatchSize（立即提交，并取消截止定时器）；
  - 自第一个条目入队起经过 MaxWaitTime（定时器触发）。

摘下批次与取消定时器在同一把锁内完成，定时器回调在提交前重新校验
批次是否仍为该分组的当前批次，因此同一批次只会被提交一次。
批次提交后，新到的请求立即进入新批次，不等待进行中的提交。

# 结果分发

Handler 返回与批次等长的结果时逐项分发；只返回一个结果时广播给整批；
返回错误时整批以同一错误失败，其他批次不受影响。

# 核心类型

  - Accumulator：累加器，提供 Submit / SubmitWait / Flush / FlushAll / Clear / Close。
  - Handler：批量处理回调。
  - Config：批大小、最长等待时间与并发提交上限。
  - Stats：提交数、批次数、按触发原因统计的提交次数、平均批大小等。

# 使用方式

	acc := batch.NewAccumulator(batch.DefaultConfig(), func(ctx context.Context, reqs []*types.Request) ([]*types.Response, error) {
	    return downstream.Process(ctx, reqs)
	})
	defer acc.Close()

	resp, err := acc.SubmitWait(ctx, "gpt-4o@/v1/generate", req)
*/
package batch
