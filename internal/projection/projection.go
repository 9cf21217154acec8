package projection

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/John-Robertt/lsimport/internal/domain"
)

// MismatchError 表示 scene 与当前 location 的空间参考不一致（未开启 override 时对整次运行致命）。
type MismatchError struct {
	SceneID string
	Scene   string
	Active  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("scene %s 的投影 %s 与当前 location 的投影 %s 不一致（可用 -o 忽略）", e.SceneID, e.Scene, e.Active)
}

func (e *MismatchError) ErrorCode() string { return domain.ErrCodeProjectionMismatch }

// Same 比较两个规范空间参考（大小写不敏感）。
func Same(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Check 校验 unit 的空间参考。
//
// - 一致：nil
// - 不一致且 override：记一条 warning，返回 nil
// - 不一致且未 override：*MismatchError
func Check(unit domain.SceneUnit, active string, override bool, log *slog.Logger) error {
	ref := unit.Metadata.SpatialRef
	if Same(ref, active) {
		return nil
	}
	if !override {
		return &MismatchError{SceneID: unit.SceneID, Scene: ref, Active: active}
	}
	if log != nil {
		log.Warn("投影不一致，按 override 继续导入",
			slog.String("scene", unit.SceneID),
			slog.String("scene_ref", ref),
			slog.String("location_ref", active))
	}
	return nil
}
