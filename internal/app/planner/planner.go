package planner

import (
	"fmt"

	"github.com/John-Robertt/lsimport/internal/domain"
)

// Options 是影响单个波段决策的运行选项。
type Options struct {
	Link           bool
	SkipExisting   bool
	Overwrite      bool
	ForceTimestamp bool
}

// Input 是一次决策所需的全部事实（由调用方事先探测好，Decide 本身不做任何 I/O）。
type Input struct {
	Layer       string
	File        string
	FileExists  bool
	LayerExists bool
	Options     Options
}

// MissingFileError 表示 MTL 声明的波段文件不存在（error_code=band_import_failed）。
type MissingFileError struct {
	Layer string
	File  string
}

func (e *MissingFileError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("图层 %s：scene 中没有该波段", e.Layer)
	}
	return fmt.Sprintf("图层 %s：波段文件不存在：%s", e.Layer, e.File)
}

func (e *MissingFileError) ErrorCode() string { return domain.ErrCodeBandImport }

// AlreadyExistsError 表示目标图层已存在且既未要求跳过也未要求覆盖。
type AlreadyExistsError struct {
	Layer string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("图层 %s 已存在（可用 -s 跳过或 --overwrite 覆盖）", e.Layer)
}

func (e *AlreadyExistsError) ErrorCode() string { return domain.ErrCodeBandAlreadyExists }

// Decide 是每个波段的状态机，在任何副作用之前计算一次：
//
// - 文件缺失：Error(band_import_failed)
// - 图层已存在 + skip：SkipExisting（force 时 Restamp）
// - 图层已存在 + overwrite：Import/Link（Overwrite=true）
// - 图层已存在：Error(band_already_exists)
// - 其他：Import/Link
func Decide(in Input) domain.ImportDecision {
	if !in.FileExists {
		return domain.ImportDecision{Kind: domain.DecisionError, Err: &MissingFileError{Layer: in.Layer, File: in.File}}
	}

	write := domain.DecisionImport
	if in.Options.Link {
		write = domain.DecisionLink
	}

	if in.LayerExists {
		switch {
		case in.Options.SkipExisting:
			return domain.ImportDecision{Kind: domain.DecisionSkipExisting, Restamp: in.Options.ForceTimestamp}
		case in.Options.Overwrite:
			return domain.ImportDecision{Kind: write, Overwrite: true}
		default:
			return domain.ImportDecision{Kind: domain.DecisionError, Err: &AlreadyExistsError{Layer: in.Layer}}
		}
	}
	return domain.ImportDecision{Kind: write}
}

// ShouldStamp 决定写入图层后是否打时间戳：图层没有时间戳，或要求强制时才写。
func ShouldStamp(hasTimestamp, force bool) bool {
	return force || !hasTimestamp
}
