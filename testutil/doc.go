// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 llmgate 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode，基于 testify 检查 types.Error 错误码
  - 异步断言: AssertEventuallyTrue / MustReceive / AssertNotReceived，
    支持超时轮询

# 子包

  - testutil/mocks: MockProcessor，记录每次批量调用，支持固定响应、
    广播、错误注入与阻塞控制
  - testutil/fixtures: 请求与响应样例

# 使用示例

	proc := mocks.NewMockProcessor().WithDelay(10 * time.Millisecond)
	c, err := coalescer.New(coalescer.DefaultConfig(), proc.Process)
	resp, err := c.Execute(testutil.TestContext(t), fixtures.Request("hello"))
*/
package testutil
