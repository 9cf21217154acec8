package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/John-Robertt/lsimport/internal/app/run"
	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：单个 scene 导入很慢（大文件物化）时也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	fail  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 15 * time.Second,
		tickerInterval:     5 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "import"
	if eff.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(p.w, "[%s] lsimport (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.Pool != "" {
		fmt.Fprintf(p.w, "  pool: %s\n", eff.Pool)
	} else {
		fmt.Fprintf(p.w, "  scenes: %s\n", truncate(strings.Join(eff.Scenes, ", "), 160))
	}
	if eff.SharedMapset != "" {
		fmt.Fprintf(p.w, "  mapset: %s (共享，图层名加 scene 前缀)\n", eff.SharedMapset)
	} else {
		fmt.Fprintln(p.w, "  mapset: 每个 scene 一个")
	}
	fmt.Fprintf(p.w, "  write: %s existing=%s\n", writeMode(eff), existingMode(eff))
	if len(eff.Bands) > 0 {
		fmt.Fprintf(p.w, "  bands: %s\n", joinBands(eff.Bands))
	}
	if eff.Timestamp != nil {
		fmt.Fprintf(p.w, "  timestamp: %s (手工)\n", eff.Timestamp.String())
	}
	fmt.Fprintf(p.w, "  force_timestamp: %s copy_metadata: %s override_projection: %s\n",
		onOff(eff.ForceTimestamp), onOff(eff.CopyMetadata), onOff(eff.OverrideProjection))
	if eff.HistoryDB != "" {
		fmt.Fprintf(p.w, "  history: %s\n", eff.HistoryDB)
	}
	for _, src := range eff.Sources {
		fmt.Fprintf(p.w, "  source: %s\n", src)
	}
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "catalog":
		p.total = intField(fields, "scenes")
		extracted := ""
		if n := intField(fields, "extracted"); n > 0 {
			extracted = " extracted=" + humanize.Bytes(uint64(n))
		}
		fmt.Fprintf(p.w, "目录: candidates=%d scenes=%d excluded=%d%s (%s)\n",
			intField(fields, "candidates"), p.total, intField(fields, "excluded"), extracted, formatShortDuration(dur),
		)
	case "guard":
		fmt.Fprintf(p.w, "校验: projection=%v mapsets=%d mode=%v (%s)\n\n",
			fields["projection"], intField(fields, "workspaces"), fields["mode"], formatShortDuration(dur),
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.SceneResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total
	if res.Failed() {
		p.fail++
	}

	fmt.Fprintln(p.w, formatSceneLine(idx, total, res, dur))
	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopLocked()
	}
}

func (p *progressUI) OnProgress(done, total, failed int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printProgressLocked(done, total, failed, elapsed)
}

// Stop 结束 keepalive（运行中止时 OnItemDone 不会走到最后一条）。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressUI) stopLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) printProgressLocked(done, total, failed int, elapsed time.Duration) {
	fmt.Fprintf(p.w, "进度: done=%d/%d failed=%d elapsed=%s\n", done, total, failed, formatElapsed(elapsed))
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 15 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done < p.total && time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked(p.done, p.total, p.fail, time.Since(p.startedAt))
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// formatSceneLine 输出 "[i/n] <scene> <STATUS> mapset=... written=.. skipped=.. failed=.. (dur)"。
func formatSceneLine(idx, total int, res domain.SceneResult, dur time.Duration) string {
	var written, skipped, failed, planned int
	var warnings []string
	for _, b := range res.Bands {
		switch b.Status {
		case domain.BandStatusImported, domain.BandStatusLinked:
			written++
		case domain.BandStatusSkipped:
			skipped++
		case domain.BandStatusPlanned:
			planned++
		case domain.BandStatusFailed:
			failed++
		}
		if b.Warning != "" {
			warnings = append(warnings, b.Band)
		}
	}

	if res.Status == domain.StatusFailed {
		return fmt.Sprintf("[%d/%d] %s FAIL %s: %s (%s)",
			idx, total, res.SceneID, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur))
	}

	status := "OK"
	switch {
	case failed > 0:
		status = "PARTIAL"
	case res.Status == domain.StatusSkipped:
		status = "SKIP"
	case res.Status == domain.StatusPlanned:
		status = "PLAN"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%d/%d] %s %s mapset=%s", idx, total, res.SceneID, status, res.Workspace)
	if res.Status == domain.StatusPlanned {
		fmt.Fprintf(&b, " planned=%d skipped=%d failed=%d", planned, skipped, failed)
	} else {
		fmt.Fprintf(&b, " written=%d skipped=%d failed=%d", written, skipped, failed)
	}
	if len(warnings) > 0 {
		fmt.Fprintf(&b, " warn=%s", strings.Join(warnings, ","))
	}
	fmt.Fprintf(&b, " (%s)", formatShortDuration(dur))
	return b.String()
}

func writeMode(eff config.EffectiveConfig) string {
	if eff.Link {
		return "link"
	}
	return fmt.Sprintf("import (memory=%s)", humanize.IBytes(uint64(eff.MemoryMB)<<20))
}

func existingMode(eff config.EffectiveConfig) string {
	switch {
	case eff.SkipExisting:
		return "skip"
	case eff.Overwrite:
		return "overwrite"
	default:
		return "error"
	}
}

func joinBands(bs []domain.Band) string {
	parts := make([]string, 0, len(bs))
	for _, b := range bs {
		parts = append(parts, string(b))
	}
	return strings.Join(parts, ",")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
