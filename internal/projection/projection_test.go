package projection

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/John-Robertt/lsimport/internal/domain"
)

func unit(ref string) domain.SceneUnit {
	return domain.SceneUnit{SceneID: "LC81", Metadata: domain.SceneMetadata{SpatialRef: ref}}
}

func TestCheck_Match(t *testing.T) {
	if err := Check(unit("EPSG:32634"), "epsg:32634", false, nil); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
}

func TestCheck_MismatchIsFatalWithoutOverride(t *testing.T) {
	err := Check(unit("EPSG:32634"), "EPSG:32635", false, nil)
	var me *MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("期望 MismatchError，实际 %v", err)
	}
	if domain.ErrorCode(err) != domain.ErrCodeProjectionMismatch {
		t.Fatalf("error_code 不正确：%q", domain.ErrorCode(err))
	}
}

func TestCheck_OverrideWarns(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	if err := Check(unit("EPSG:32634"), "EPSG:32635", true, log); err != nil {
		t.Fatalf("override 时不期望错误：%v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "scene=LC81") {
		t.Fatalf("期望输出 warning，实际：%q", out)
	}
}
