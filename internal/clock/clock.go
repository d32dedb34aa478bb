// Package clock 为批处理截止定时器与缓存 TTL 提供可替换的时间源。
package clock

import (
	"time"

	k8sclock "k8s.io/utils/clock"
)

// Clock 提供当前时间与可取消的延迟回调。
// 测试中使用 k8s.io/utils/clock/testing.FakeClock 驱动时间前进。
type Clock = k8sclock.WithDelayedExecution

// Timer 是 AfterFunc 返回的可取消定时任务。
type Timer = k8sclock.Timer

// Real 返回基于系统时间的时钟。
func Real() Clock {
	return k8sclock.RealClock{}
}

// OrReal 在 c 为 nil 时返回系统时钟。
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

// Since 返回自 t 起经过的时长。
func Since(c Clock, t time.Time) time.Duration {
	return OrReal(c).Since(t)
}
