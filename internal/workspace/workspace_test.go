package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine/enginetest"
)

func units(ids ...string) []domain.SceneUnit {
	out := make([]domain.SceneUnit, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.SceneUnit{SceneID: id})
	}
	return out
}

func TestAssign_PerScene(t *testing.T) {
	a, err := Assign(units("LC82", "LC81", "bad name"), PerScene, "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ws, err := a.For("LC81"); err != nil || ws != "LC81" {
		t.Fatalf("期望 LC81，实际 %q err=%v", ws, err)
	}
	if len(a.Groups) != 2 || a.Groups[0].Workspace != "LC81" {
		t.Fatalf("Groups 应按名称排序：%+v", a.Groups)
	}
	_, err = a.For("bad name")
	var ne *NameError
	if !errors.As(err, &ne) {
		t.Fatalf("期望 NameError，实际 %v", err)
	}
	if domain.ErrorCode(err) != domain.ErrCodeWorkspaceCreate {
		t.Fatalf("error_code 不正确：%q", domain.ErrorCode(err))
	}
}

func TestAssign_Shared(t *testing.T) {
	a, err := Assign(units("LC82", "LC81"), Shared, "landsat")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(a.Groups) != 1 || len(a.Groups[0].SceneIDs) != 2 || a.Groups[0].SceneIDs[0] != "LC82" {
		t.Fatalf("shared 分组不正确：%+v", a.Groups)
	}

	if _, err := Assign(units("LC81"), Shared, ".hidden"); err == nil {
		t.Fatalf("非法 shared 名称应报错")
	}
}

func TestHandle_LayerName(t *testing.T) {
	if got := (Handle{Name: "LC81"}).LayerName("LC81", "B4"); got != "B4" {
		t.Fatalf("per-scene 不应加前缀：%q", got)
	}
	if got := (Handle{Name: "ls", Shared: true}).LayerName("LC81", "B4"); got != "LC81_B4" {
		t.Fatalf("shared 应加前缀：%q", got)
	}
}

func TestProperty_SharedLayerNamesUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shared 模式下不同 (scene, band) 的图层名互不相同", prop.ForAll(
		func(paths []int, collection bool) bool {
			shared := Handle{Name: "landsat", Shared: true}
			seen := map[string]bool{}
			ids := map[string]bool{}
			for i, p := range paths {
				id := fmt.Sprintf("LC8%06d2014%03dLGN00", p, i%366+1)
				if collection {
					id = fmt.Sprintf("LC08_L1TP_%06d_20140526_20170422_01_T1", p)
				}
				if ids[id] {
					continue
				}
				ids[id] = true
				for _, b := range domain.KnownBands {
					name := shared.LayerName(id, b)
					if seen[name] || !strings.HasPrefix(name, id+"_") {
						return false
					}
					seen[name] = true
					if (Handle{Name: id}).LayerName(id, b) != string(b) {
						return false
					}
				}
			}
			return len(seen) == len(ids)*len(domain.KnownBands)
		},
		gen.SliceOfN(8, gen.IntRange(0, 999999)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestManager_ActivateReuseAndRestore(t *testing.T) {
	ctx := context.Background()
	eng := enginetest.New(t.TempDir(), "EPSG:32634")
	m, err := NewManager(ctx, eng, PerScene)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	h1, err := m.Activate(ctx, "LC81")
	if err != nil || !h1.Created {
		t.Fatalf("首次激活应创建：%+v err=%v", h1, err)
	}
	if eng.Current() != "LC81" || m.Check(h1) != nil {
		t.Fatalf("活动 workspace 不正确：%q", eng.Current())
	}

	h2, err := m.Activate(ctx, "LC82")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !errors.Is(m.Check(h1), ErrStaleHandle) {
		t.Fatalf("旧 handle 应失效")
	}
	if err := m.Check(h2); err != nil {
		t.Fatalf("当前 handle 应有效：%v", err)
	}

	h3, err := m.Activate(ctx, "LC81")
	if err != nil || h3.Created {
		t.Fatalf("已存在的 workspace 应复用：%+v err=%v", h3, err)
	}

	if err := m.Restore(ctx); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eng.Current() != "PERMANENT" {
		t.Fatalf("Restore 应回到 PERMANENT，实际 %q", eng.Current())
	}
	if !errors.Is(m.Check(h3), ErrStaleHandle) {
		t.Fatalf("Restore 后 handle 应失效")
	}
}

func TestManager_CreateFailure(t *testing.T) {
	ctx := context.Background()
	eng := enginetest.New(t.TempDir(), "EPSG:32634")
	eng.FailCreate["LC81"] = errors.New("permission denied")
	m, _ := NewManager(ctx, eng, PerScene)

	_, err := m.Activate(ctx, "LC81")
	var ce *CreateError
	if !errors.As(err, &ce) {
		t.Fatalf("期望 CreateError，实际 %v", err)
	}
	if eng.Current() != "PERMANENT" || m.Original() != "PERMANENT" {
		t.Fatalf("失败时不应改变活动 workspace：%q", eng.Current())
	}
}
