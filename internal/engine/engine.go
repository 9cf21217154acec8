// Package engine 定义导入流程依赖的外部栅格引擎原语。
//
// 流程只通过这些接口与引擎交互：真实实现见 engine/grass，测试用内存实现见 engine/enginetest。
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/John-Robertt/lsimport/internal/domain"
)

// Env 是当前引擎会话的位置信息。
type Env struct {
	GISDBase string
	Location string
	Mapset   string
}

// Host 管理 workspace（GRASS 中为 mapset）。
type Host interface {
	Env(ctx context.Context) (Env, error)
	// Projection 返回当前 location 的规范空间参考（与 SceneMetadata.SpatialRef 同一写法）。
	Projection(ctx context.Context) (string, error)
	MapsetExists(ctx context.Context, name string) (bool, error)
	// CreateMapset 创建并切换到 name；新 mapset 继承 location 的投影。
	CreateMapset(ctx context.Context, name string) error
	SwitchMapset(ctx context.Context, name string) error
	// AuxDir 返回 mapset 的辅助元数据目录（cell_misc）。
	AuxDir(ctx context.Context, mapset string) (string, error)
}

// ImportRequest 描述一次波段导入（物化或外部链接）。
type ImportRequest struct {
	File               string
	Layer              string
	Title              string
	OverrideProjection bool
	Overwrite          bool
	// MemoryMB 只对物化导入有效；0 表示用引擎默认值。
	MemoryMB int
}

// Raster 是图层层面的原语。
type Raster interface {
	LayerExists(ctx context.Context, mapset, layer string) (bool, error)
	Import(ctx context.Context, req ImportRequest) error
	Link(ctx context.Context, req ImportRequest) error
}

// Stamper 读取/写入图层时间戳。
type Stamper interface {
	// Timestamp 返回图层已有的时间戳；没有时 ok=false。
	Timestamp(ctx context.Context, mapset, layer string) (value string, ok bool, err error)
	SetTimestamp(ctx context.Context, layer string, ts domain.Timestamp) error
}

// Engine 聚合全部原语。
type Engine interface {
	Host
	Raster
	Stamper
}

// CommandError 表示一次外部模块调用失败。
type CommandError struct {
	Module string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s 执行失败：%s", e.Module, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }
