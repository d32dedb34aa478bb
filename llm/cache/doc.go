// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供有界的本地结果缓存，以请求指纹为键保存下游生成结果，
减少对慢速、限流下游端点的重复调用。

# 概述

LRU 以哈希表 + 双向链表实现 O(1) 的 Get/Set。容量上限是硬约束：
写入新键且已满时，先淘汰最久未访问的条目（严格 LRU），再插入。
TTL 是次级约束：读取时惰性检查 now - createdAt > ttl，过期即删除并
计为未命中；PurgeExpired 可由后台清理任务周期调用。

# 核心类型

  - LRU：泛型缓存，支持 Get / Peek / Set / SetWithTTL / Delete / Clear。
  - Config：容量与默认 TTL。
  - Stats：命中、未命中、淘汰、过期次数，当前大小与命中率。

# 时间源

时间来自注入的 k8s.io/utils/clock.PassiveClock，测试中使用 FakeClock
驱动 TTL 过期，无需真实等待。
*/
package cache
