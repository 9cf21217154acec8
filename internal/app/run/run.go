package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/lsimport/internal/app/planner"
	"github.com/John-Robertt/lsimport/internal/archive"
	"github.com/John-Robertt/lsimport/internal/catalog"
	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine"
	"github.com/John-Robertt/lsimport/internal/infra/fsx"
	"github.com/John-Robertt/lsimport/internal/projection"
	"github.com/John-Robertt/lsimport/internal/timestamp"
	"github.com/John-Robertt/lsimport/internal/workspace"
)

// BandImportError 表示栅格引擎导入/链接失败（不自动重试，重跑即可）。
type BandImportError struct {
	Layer string
	Err   error
}

func (e *BandImportError) Error() string {
	return fmt.Sprintf("图层 %s 导入失败：%v", e.Layer, e.Err)
}

func (e *BandImportError) Unwrap() error { return e.Err }

func (e *BandImportError) ErrorCode() string { return domain.ErrCodeBandImport }

// MetadataCopyError 表示 MTL 无法复制到 workspace 的辅助目录。
type MetadataCopyError struct {
	Dir string
	Err error
}

func (e *MetadataCopyError) Error() string {
	return fmt.Sprintf("复制 MTL 到 %s 失败：%v", e.Dir, e.Err)
}

func (e *MetadataCopyError) Unwrap() error { return e.Err }

func (e *MetadataCopyError) ErrorCode() string { return domain.ErrCodeMetadataCopy }

// Deps 是一次运行的外部依赖。
type Deps struct {
	Engine engine.Engine
	Log    *slog.Logger
}

func (d Deps) log() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Survey 是所有模式共用的第一阶段：生成候选并逐个物化为 SceneUnit。
// 被排除的候选以 excluded 状态的 SceneResult 返回；只有 ctx 取消或 pool 不可读时返回 error。
func Survey(ctx context.Context, eff config.EffectiveConfig, log *slog.Logger, obs Observer) ([]domain.SceneUnit, []domain.SceneResult, error) {
	started := time.Now()

	cands, err := catalog.Candidates(eff.Scenes, eff.Pool)
	if err != nil {
		return nil, nil, err
	}

	cat := catalog.New(cands)
	var extracted int64
	cat.OnResolved = func(c catalog.Candidate, r archive.Resolved) {
		if r.Extracted {
			extracted += r.Bytes
			if log != nil {
				log.Debug("已解包", slog.String("scene", c.Name), slog.String("dir", r.Dir), slog.Int64("bytes", r.Bytes))
			}
		}
	}

	units := make([]domain.SceneUnit, 0, len(cands))
	excluded := make([]domain.SceneResult, 0)
	for u, err := range cat.Scenes(ctx) {
		if err != nil {
			var ex *catalog.ExcludedError
			if !errors.As(err, &ex) {
				return nil, nil, err
			}
			if log != nil {
				log.Warn("scene 已排除", slog.String("scene", ex.Name), slog.String("error_code", domain.ErrorCode(ex)), slog.Any("error", ex.Err))
			}
			excluded = append(excluded, domain.SceneResult{
				SceneID:   ex.Name,
				Source:    ex.Ref,
				Status:    domain.StatusExcluded,
				ErrorCode: domain.ErrorCode(ex),
				ErrorMsg:  ex.Err.Error(),
			})
			continue
		}
		units = append(units, u)
	}

	if obs != nil {
		obs.OnPhaseDone("catalog", map[string]any{
			"candidates": len(cands),
			"scenes":     len(units),
			"excluded":   len(excluded),
			"extracted":  extracted,
		}, time.Since(started))
	}
	return units, excluded, nil
}

// Execute 执行一次导入（或 dry-run 规划），并返回对外稳定的 RunReport。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
//
// 顺序（硬约束）：物化全部 scene -> 全部通过投影校验 -> 一次性分配 workspace -> 逐 scene、逐波段串行导入。
// 任一 scene 投影不一致（且未 override）时，在任何写入之前中止整次运行。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	log := deps.log()
	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Mode:      "import",
		DryRun:    eff.DryRun,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.SceneResult, 0, 16),
	}
	if eff.DryRun {
		rr.Mode = "dry-run"
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	units, excluded, err := Survey(ctx, eff, log, obs)
	if err != nil {
		rr.Aborted = domain.ErrorCode(err)
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrorCode(err), fmt.Sprintf("枚举 scene 失败：%v", err)))
		return finish()
	}
	rr.Items = append(rr.Items, excluded...)

	guardStarted := time.Now()
	active, err := deps.Engine.Projection(ctx)
	if err != nil {
		rr.Aborted = domain.ErrCodeIOFailed
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("读取当前 location 投影失败：%v", err)))
		return finish()
	}
	for _, u := range units {
		if err := projection.Check(u, active, eff.OverrideProjection, log); err != nil {
			rr.Aborted = domain.ErrorCode(err)
			rr.Items = append(rr.Items, domain.SceneResult{
				SceneID:   u.SceneID,
				Source:    u.Source,
				Status:    domain.StatusFailed,
				ErrorCode: domain.ErrorCode(err),
				ErrorMsg:  err.Error(),
			})
			return finish()
		}
	}

	mode := workspace.PerScene
	if eff.SharedMapset != "" {
		mode = workspace.Shared
	}
	assign, err := workspace.Assign(units, mode, eff.SharedMapset)
	if err != nil {
		rr.Aborted = domain.ErrorCode(err)
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrorCode(err), err.Error()))
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("guard", map[string]any{
			"projection": active,
			"workspaces": len(assign.Groups),
			"mode":       mode.String(),
		}, time.Since(guardStarted))
	}

	var mgr *workspace.Manager
	if !eff.DryRun {
		mgr, err = workspace.NewManager(ctx, deps.Engine, mode)
		if err != nil {
			rr.Aborted = domain.ErrCodeIOFailed
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("读取引擎会话失败：%v", err)))
			return finish()
		}
		defer func() {
			if err := mgr.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("恢复原 mapset 失败", slog.String("mapset", mgr.Original()), slog.Any("error", err))
			}
		}()
	}

	im := importer{eff: eff, eng: deps.Engine, log: log, mgr: mgr, assign: assign, mode: mode}
	for i, u := range units {
		if ctx.Err() != nil {
			rr.Aborted = domain.ErrCodeIOFailed
			break
		}
		oneStarted := time.Now()
		res := im.scene(ctx, u)
		if eff.RemoveExtracted && u.FromArchive && !eff.DryRun {
			if err := archive.Remove(archive.Resolved{Dir: u.Dir, FromArchive: true}); err != nil {
				log.Warn("删除解包目录失败", slog.String("dir", u.Dir), slog.Any("error", err))
			}
		}
		rr.Items = append(rr.Items, res)
		if obs != nil {
			obs.OnItemDone(i+1, len(units), res, time.Since(oneStarted))
		}
	}

	return finish()
}

type importer struct {
	eff    config.EffectiveConfig
	eng    engine.Engine
	log    *slog.Logger
	mgr    *workspace.Manager
	assign workspace.Assignment
	mode   workspace.Mode
}

func (im importer) timestampFor(u domain.SceneUnit) domain.Timestamp {
	if im.eff.Timestamp != nil {
		return *im.eff.Timestamp
	}
	return timestamp.Derive(u.Metadata)
}

// bands 返回本次要处理的波段：默认是 scene 拥有的全部波段；--band 指定时按指定集合（缺失的波段会以错误决策体现）。
func (im importer) bands(u domain.SceneUnit) []domain.Band {
	if len(im.eff.Bands) > 0 {
		return im.eff.Bands
	}
	return u.Metadata.Bands()
}

func (im importer) options() planner.Options {
	return planner.Options{
		Link:           im.eff.Link,
		SkipExisting:   im.eff.SkipExisting,
		Overwrite:      im.eff.Overwrite,
		ForceTimestamp: im.eff.ForceTimestamp,
	}
}

func (im importer) scene(ctx context.Context, u domain.SceneUnit) domain.SceneResult {
	ts := im.timestampFor(u)
	res := domain.SceneResult{
		SceneID:   u.SceneID,
		Source:    u.Source,
		Timestamp: ts.String(),
		Status:    domain.StatusProcessed,
	}

	ws, err := im.assign.For(u.SceneID)
	if err != nil {
		fail(&res, err)
		return res
	}
	res.Workspace = ws

	if im.eff.DryRun {
		im.plan(ctx, u, ws, &res)
		return res
	}

	h, err := im.mgr.Activate(ctx, ws)
	if err != nil {
		fail(&res, err)
		return res
	}
	res.WorkspaceCreated = h.Created

	for _, b := range im.bands(u) {
		res.Bands = append(res.Bands, im.band(ctx, u, h, b, ts))
	}

	if im.eff.CopyMetadata {
		copied, err := im.copyMetadata(ctx, u, h)
		res.MetadataCopied = copied
		if err != nil {
			fail(&res, err)
			return res
		}
	}

	if allSkipped(res.Bands) {
		res.Status = domain.StatusSkipped
	}
	return res
}

// plan 是 dry-run：只探测、只决策，不切换 mapset、不写任何东西。
func (im importer) plan(ctx context.Context, u domain.SceneUnit, ws string, res *domain.SceneResult) {
	res.Status = domain.StatusPlanned
	exists, err := im.eng.MapsetExists(ctx, ws)
	if err != nil {
		fail(res, err)
		return
	}
	naming := workspace.Handle{Name: ws, Shared: im.mode == workspace.Shared}
	for _, b := range im.bands(u) {
		layer := naming.LayerName(u.SceneID, b)
		file := u.Metadata.BandFiles[b]
		br := domain.BandResult{Band: string(b), Layer: layer, File: file}

		layerExists := false
		if exists {
			layerExists, err = im.eng.LayerExists(ctx, ws, layer)
			if err != nil {
				bandFail(&br, err)
				res.Bands = append(res.Bands, br)
				continue
			}
		}
		d := planner.Decide(planner.Input{Layer: layer, File: file, FileExists: fileExists(file), LayerExists: layerExists, Options: im.options()})
		br.Decision = d.Kind.String()
		switch {
		case d.Kind == domain.DecisionError:
			bandFail(&br, d.Err)
		case d.WritesLayer():
			br.Status = domain.BandStatusPlanned
		default:
			br.Status = domain.BandStatusSkipped
		}
		res.Bands = append(res.Bands, br)
	}
}

func (im importer) band(ctx context.Context, u domain.SceneUnit, h workspace.Handle, b domain.Band, ts domain.Timestamp) domain.BandResult {
	layer := h.LayerName(u.SceneID, b)
	file := u.Metadata.BandFiles[b]
	br := domain.BandResult{Band: string(b), Layer: layer, File: file}

	if err := im.mgr.Check(h); err != nil {
		bandFail(&br, err)
		return br
	}
	layerExists, err := im.eng.LayerExists(ctx, h.Name, layer)
	if err != nil {
		bandFail(&br, err)
		return br
	}

	d := planner.Decide(planner.Input{Layer: layer, File: file, FileExists: fileExists(file), LayerExists: layerExists, Options: im.options()})
	br.Decision = d.Kind.String()

	switch d.Kind {
	case domain.DecisionError:
		bandFail(&br, d.Err)
		return br
	case domain.DecisionSkipExisting:
		br.Status = domain.BandStatusSkipped
		if d.Restamp {
			im.stamp(ctx, h, &br, ts, true)
		}
		return br
	}

	req := engine.ImportRequest{
		File:               file,
		Layer:              layer,
		Title:              bandTitle(b),
		OverrideProjection: im.eff.OverrideProjection,
		Overwrite:          d.Overwrite,
		MemoryMB:           im.eff.MemoryMB,
	}
	if d.Kind == domain.DecisionLink {
		err = im.eng.Link(ctx, req)
		br.Status = domain.BandStatusLinked
	} else {
		err = im.eng.Import(ctx, req)
		br.Status = domain.BandStatusImported
	}
	if err != nil {
		bandFail(&br, &BandImportError{Layer: layer, Err: err})
		return br
	}

	im.stamp(ctx, h, &br, ts, im.eff.ForceTimestamp)
	return br
}

// stamp 写时间戳；失败只记 warning，不改变波段结果。
func (im importer) stamp(ctx context.Context, h workspace.Handle, br *domain.BandResult, ts domain.Timestamp, force bool) {
	_, has, err := im.eng.Timestamp(ctx, h.Name, br.Layer)
	if err != nil {
		im.log.Debug("读取图层时间戳失败，按无时间戳处理", slog.String("layer", br.Layer), slog.Any("error", err))
		has = false
	}
	if !planner.ShouldStamp(has, force) {
		return
	}
	if err := im.mgr.Check(h); err != nil {
		br.Warning = err.Error()
		return
	}
	if err := im.eng.SetTimestamp(ctx, br.Layer, ts); err != nil {
		br.Warning = fmt.Sprintf("%s：%v", domain.ErrCodeTimestamp, err)
		im.log.Warn("写入时间戳失败", slog.String("layer", br.Layer), slog.String("mapset", h.Name), slog.Any("error", err))
		return
	}
	br.Stamped = true
}

// copyMetadata 把 MTL 复制到 <mapset>/cell_misc/；已存在视为已复制（不覆盖）。
func (im importer) copyMetadata(ctx context.Context, u domain.SceneUnit, h workspace.Handle) (bool, error) {
	dir, err := im.eng.AuxDir(ctx, h.Name)
	if err != nil {
		return false, &MetadataCopyError{Err: err}
	}
	src := u.Metadata.MetadataFile
	if err := fsx.CopyFileAtomicNoOverwrite(src, dir, filepath.Base(src)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return true, nil
		}
		return false, &MetadataCopyError{Dir: dir, Err: err}
	}
	return true, nil
}

func bandTitle(b domain.Band) string {
	s := string(b)
	if rest := strings.TrimPrefix(s, "B"); rest != s && rest != "" && rest[0] >= '0' && rest[0] <= '9' {
		return "band " + rest
	}
	return "band " + s
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func allSkipped(bands []domain.BandResult) bool {
	if len(bands) == 0 {
		return false
	}
	for _, b := range bands {
		if b.Status != domain.BandStatusSkipped {
			return false
		}
	}
	return true
}

func fail(res *domain.SceneResult, err error) {
	res.Status = domain.StatusFailed
	res.ErrorCode = domain.ErrorCode(err)
	res.ErrorMsg = err.Error()
}

func bandFail(br *domain.BandResult, err error) {
	br.Status = domain.BandStatusFailed
	br.ErrorCode = domain.ErrorCode(err)
	br.ErrorMsg = err.Error()
}

func syntheticFailed(code, msg string) domain.SceneResult {
	return domain.SceneResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Bands:     []domain.BandResult{},
	}
}
