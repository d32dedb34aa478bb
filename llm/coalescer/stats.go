package coalescer

import (
	"github.com/BaSui01/llmgate/internal/pool"
	"github.com/BaSui01/llmgate/llm/batch"
	"github.com/BaSui01/llmgate/llm/cache"
	"github.com/BaSui01/llmgate/llm/dedup"
)

// Stats 汇总各组件统计
type Stats struct {
	Cache              cache.Stats        `json:"cache"`
	Dedup              dedup.Stats        `json:"dedup"`
	Batch              batch.Stats        `json:"batch"`
	Executor           pool.ExecutorStats `json:"executor"`
	TokensSaved        int64              `json:"tokens_saved"`
	CacheWriteFailures int64              `json:"cache_write_failures"`
	Warm               WarmStats          `json:"warm"`
}

// CallsSaved 估算被合并掉的下游调用数：缓存命中 + 共享在途执行 + 批处理合并
func (s Stats) CallsSaved() int64 {
	saved := s.Cache.Hits + s.Dedup.Shared
	if s.Batch.Batches > 0 {
		if merged := s.Batch.Completed + s.Batch.Failed - s.Batch.Batches; merged > 0 {
			saved += merged
		}
	}
	return saved
}
