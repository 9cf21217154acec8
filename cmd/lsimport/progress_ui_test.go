package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
)

func TestFormatSceneLine(t *testing.T) {
	res := domain.SceneResult{
		SceneID:   "LC81",
		Workspace: "LC81",
		Status:    domain.StatusProcessed,
		Bands: []domain.BandResult{
			{Band: "B1", Status: domain.BandStatusImported},
			{Band: "B4", Status: domain.BandStatusImported, Warning: "timestamp_failed：x"},
			{Band: "BQA", Status: domain.BandStatusFailed},
		},
	}
	got := formatSceneLine(1, 3, res, 1500*time.Millisecond)
	want := "[1/3] LC81 PARTIAL mapset=LC81 written=2 skipped=0 failed=1 warn=B4 (1.5s)"
	if got != want {
		t.Fatalf("期望 %q，实际 %q", want, got)
	}

	res = domain.SceneResult{SceneID: "LC82", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeWorkspaceCreate, ErrorMsg: "权限不足"}
	if got := formatSceneLine(2, 3, res, 0); !strings.Contains(got, "FAIL workspace_create_failed: 权限不足") {
		t.Fatalf("失败行不正确：%q", got)
	}
}

func TestProgressUI_Events(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)
	defer p.Stop()

	p.OnStart(config.EffectiveConfig{Pool: "/data/pool", MemoryMB: 300, CopyMetadata: true})
	p.OnPhaseDone("catalog", map[string]any{"candidates": 3, "scenes": 1, "excluded": 2, "extracted": int64(5 << 20)}, time.Second)
	p.OnPhaseDone("guard", map[string]any{"projection": "EPSG:32634", "workspaces": 1, "mode": "per-scene"}, 0)
	p.OnItemDone(1, 1, domain.SceneResult{SceneID: "LC81", Status: domain.StatusSkipped, Bands: []domain.BandResult{{Status: domain.BandStatusSkipped}}}, 0)

	out := buf.String()
	for _, want := range []string{
		"pool: /data/pool",
		"import (memory=300 MiB) existing=error",
		"excluded=2 extracted=5.2 MB",
		"projection=EPSG:32634",
		"[1/1] LC81 SKIP",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if p.tickerStarted {
		t.Fatalf("最后一个 scene 完成后 ticker 应停止")
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(3723 * time.Second); got != "01:02:03" {
		t.Fatalf("期望 01:02:03，实际 %q", got)
	}
}
