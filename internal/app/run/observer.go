package run

import (
	"time"

	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
)

// Observer 用于把“运行进度/阶段/scene 结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：OnProgress 通常由 CLI 的 ticker goroutine 触发。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用：catalog（枚举+解包+MTL）、guard（投影校验+workspace 分配）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个 scene 的全部波段处理完成时调用。
	OnItemDone(idx, total int, res domain.SceneResult, dur time.Duration)
	// OnProgress 用于 keepalive（由 CLI 自己 ticker 触发；run 层不调用）。
	OnProgress(done, total, failed int, elapsed time.Duration)
}
