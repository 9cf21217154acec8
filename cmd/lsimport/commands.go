package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/John-Robertt/lsimport/internal/app/run"
	"github.com/John-Robertt/lsimport/internal/catalog"
	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/infra/history"
	"github.com/John-Robertt/lsimport/internal/report"
)

var (
	sceneFlag = cli.StringSliceFlag{Name: "scene", Usage: "scene 目录或压缩包（可重复，或用逗号分隔）"}
	poolFlag  = cli.StringFlag{Name: "pool", Usage: "包含多个 scene 的目录"}

	logLevelFlag = cli.StringFlag{Name: "log-level", Usage: "日志级别：debug|info|warn|error"}
	historyFlag  = cli.StringFlag{Name: "history-db", Usage: "导入历史 SQLite 路径（none 关闭）"}
	stampFlag    = cli.StringFlag{Name: "timestamp", Usage: "手工时间戳 'YYYY-MM-DD HH:MM:SS +ZZZZ'，用于所有 scene"}
)

func (s *session) commands() []cli.Command {
	usageErr := func(c *cli.Context, err error, _ bool) error {
		fmt.Fprintf(s.stderr, "参数错误：%v\n", err)
		return err
	}
	return []cli.Command{
		{
			Name:         config.CmdImport,
			Usage:        "导入 scene 的全部（或指定）波段，并写入时间戳",
			ArgsUsage:    "[scene...]",
			OnUsageError: usageErr,
			Flags: []cli.Flag{
				sceneFlag, poolFlag,
				cli.BoolFlag{Name: "link, e", Usage: "链接外部文件而不是导入"},
				cli.BoolFlag{Name: "no-metadata-copy, c", Usage: "不把 MTL 复制到 mapset 的 cell_misc"},
				cli.BoolFlag{Name: "override-projection, o", Usage: "忽略投影不一致"},
				cli.BoolFlag{Name: "skip-existing, s", Usage: "跳过已存在的图层"},
				cli.BoolFlag{Name: "overwrite", Usage: "覆盖已存在的图层"},
				cli.BoolFlag{Name: "force-timestamp, f", Usage: "即使图层已有时间戳也重写"},
				cli.BoolFlag{Name: "remove-extracted, r", Usage: "导入后删除压缩包解出的目录（仅 --scene）"},
				cli.BoolFlag{Name: "one-mapset, 1", Usage: "所有 scene 导入同一个 mapset（需要 --mapset）"},
				cli.StringFlag{Name: "mapset", Usage: "-1 使用的 mapset 名"},
				cli.StringSliceFlag{Name: "band", Usage: "只处理这些波段，例如 4,5,bqa"},
				stampFlag,
				cli.IntFlag{Name: "memory", Value: config.DefaultMemoryMB, Usage: "导入时的缓存大小（MB，0-2047）"},
				cli.BoolFlag{Name: "dry-run", Usage: "只给出每个波段的决策，不写入"},
				historyFlag, logLevelFlag,
				cli.StringFlag{Name: "grass-bin", Usage: "GRASS 模块所在目录（默认按 PATH 查找）"},
			},
			Action: s.importAction,
		},
		{
			Name:         config.CmdList,
			Usage:        "列出 scene 的波段清单（不导入）",
			ArgsUsage:    "[scene...]",
			OnUsageError: usageErr,
			Flags:        []cli.Flag{sceneFlag, poolFlag, logLevelFlag},
			Action:       s.listAction,
		},
		{
			Name:         config.CmdCount,
			Usage:        "统计 pool 中可导入的 scene 数（不解包）",
			OnUsageError: usageErr,
			Flags:        []cli.Flag{poolFlag, logLevelFlag},
			Action:       s.countAction,
		},
		{
			Name:         config.CmdTimestamps,
			Usage:        "输出 <scene><suffix>|<timestamp> 列表（可写入 t.register 文件）",
			ArgsUsage:    "[scene...]",
			OnUsageError: usageErr,
			Flags: []cli.Flag{
				sceneFlag, poolFlag, stampFlag, logLevelFlag,
				cli.StringFlag{Name: "suffix", Usage: "追加在 scene id 后的图层后缀，例如 _B4"},
				cli.StringFlag{Name: "tgis", Usage: "把列表写入该文件而不是 stdout"},
			},
			Action: s.timestampsAction,
		},
		{
			Name:         config.CmdHistory,
			Usage:        "查看导入历史",
			OnUsageError: usageErr,
			Flags: []cli.Flag{
				historyFlag,
				cli.IntFlag{Name: "limit", Value: 20, Usage: "最多显示多少次运行（0 表示全部）"},
				cli.StringFlag{Name: "run", Usage: "显示某次运行的波段明细"},
			},
			Action: s.historyAction,
		},
		{
			Name:  "version",
			Usage: "显示版本",
			Action: func(c *cli.Context) error {
				fmt.Fprintln(s.stdout, version)
				return nil
			},
		},
	}
}

// cliArgs 把 flag 映射为 config.CLIArgs；位置参数视为额外的 scene。
func cliArgs(c *cli.Context, command string) config.CLIArgs {
	scenes := append([]string{}, c.StringSlice("scene")...)
	scenes = append(scenes, c.Args()...)
	return config.CLIArgs{
		Command: command,
		Scenes:  scenes,
		Pool:    c.String("pool"),

		OneMapset: c.Bool("one-mapset"),
		Mapset:    c.String("mapset"),

		Bands:     c.StringSlice("band"),
		Timestamp: c.String("timestamp"),
		Suffix:    c.String("suffix"),
		TGISFile:  c.String("tgis"),

		DryRun:          c.Bool("dry-run"),
		RemoveExtracted: c.Bool("remove-extracted"),

		Link:                  c.Bool("link"),
		LinkSet:               c.IsSet("link"),
		CopyMetadata:          !c.Bool("no-metadata-copy"),
		CopyMetadataSet:       c.IsSet("no-metadata-copy"),
		OverrideProjection:    c.Bool("override-projection"),
		OverrideProjectionSet: c.IsSet("override-projection"),
		SkipExisting:          c.Bool("skip-existing"),
		SkipExistingSet:       c.IsSet("skip-existing"),
		Overwrite:             c.Bool("overwrite"),
		OverwriteSet:          c.IsSet("overwrite"),
		ForceTimestamp:        c.Bool("force-timestamp"),
		ForceTimestampSet:     c.IsSet("force-timestamp"),

		MemoryMB:     c.Int("memory"),
		MemoryMBSet:  c.IsSet("memory"),
		HistoryDB:    c.String("history-db"),
		HistoryDBSet: c.IsSet("history-db"),
		LogLevel:     c.String("log-level"),
		LogLevelSet:  c.IsSet("log-level"),
		GrassBin:     c.String("grass-bin"),
		GrassBinSet:  c.IsSet("grass-bin"),
	}
}

func (s *session) importAction(c *cli.Context) error {
	eff, ok := s.load(cliArgs(c, config.CmdImport))
	if !ok {
		return nil
	}
	log := s.logger(eff)

	var obs run.Observer
	if w, interactive := s.progressWriter(); interactive {
		ui := newProgressUI(w)
		defer ui.Stop()
		obs = ui
	}

	rr := run.ExecuteWithObserver(s.ctx, eff, run.Deps{Engine: newEngine(eff), Log: log}, obs)

	if eff.HistoryDB != "" && !eff.DryRun {
		if err := s.recordHistory(eff.HistoryDB, rr); err != nil {
			log.Warn("写入导入历史失败", "path", eff.HistoryDB, "error", err)
		}
	}

	s.emitReport(rr)
	if !rr.OK() {
		s.code = 1
	}
	return nil
}

func (s *session) recordHistory(path string, rr domain.RunReport) error {
	// 即使运行被中断也要记下已完成的部分。
	ctx := context.WithoutCancel(s.ctx)
	st, err := history.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return st.Record(ctx, rr)
}

func (s *session) listAction(c *cli.Context) error {
	eff, ok := s.load(cliArgs(c, config.CmdList))
	if !ok {
		return nil
	}
	units, excluded, err := run.Survey(s.ctx, eff, s.logger(eff), nil)
	if err != nil {
		fmt.Fprintf(s.stderr, "枚举 scene 失败：%v\n", err)
		s.code = 1
		return nil
	}
	report.WriteInventory(s.stdout, units)
	if len(excluded) > 0 {
		s.code = 1
	}
	return nil
}

func (s *session) countAction(c *cli.Context) error {
	eff, ok := s.load(cliArgs(c, config.CmdCount))
	if !ok {
		return nil
	}
	log := s.logger(eff)
	cands, err := catalog.Candidates(nil, eff.Pool)
	if err == nil {
		var n int
		n, err = catalog.Count(s.ctx, cands, func(ex *catalog.ExcludedError) {
			log.Warn("scene 已排除", slog.String("scene", ex.Name), slog.String("error_code", domain.ErrorCode(ex)), slog.Any("error", ex.Err))
		})
		if err == nil {
			err = report.WriteCount(s.stdout, n)
		}
	}
	if err != nil {
		fmt.Fprintf(s.stderr, "统计失败：%v\n", err)
		s.code = 1
	}
	return nil
}

func (s *session) timestampsAction(c *cli.Context) error {
	eff, ok := s.load(cliArgs(c, config.CmdTimestamps))
	if !ok {
		return nil
	}
	units, excluded, err := run.Survey(s.ctx, eff, s.logger(eff), nil)
	if err != nil {
		fmt.Fprintf(s.stderr, "枚举 scene 失败：%v\n", err)
		s.code = 1
		return nil
	}
	lines := report.TimestampLines(units, eff.Suffix, eff.Timestamp)
	if eff.TGISFile != "" {
		err = report.WriteTimestampFile(eff.TGISFile, lines)
		if err == nil {
			fmt.Fprintf(s.stderr, "已写入 %d 行：%s\n", len(lines), eff.TGISFile)
		}
	} else {
		err = report.WriteTimestamps(s.stdout, lines)
	}
	if err != nil {
		fmt.Fprintf(s.stderr, "输出时间戳失败：%v\n", err)
		s.code = 1
		return nil
	}
	if len(excluded) > 0 {
		s.code = 1
	}
	return nil
}

func (s *session) historyAction(c *cli.Context) error {
	eff, ok := s.load(cliArgs(c, config.CmdHistory))
	if !ok {
		return nil
	}
	st, err := history.Open(s.ctx, eff.HistoryDB)
	if err != nil {
		fmt.Fprintf(s.stderr, "打开导入历史失败：%v\n", err)
		s.code = 1
		return nil
	}
	defer func() { _ = st.Close() }()

	if id := c.String("run"); id != "" {
		events, err := st.Events(s.ctx, id)
		if err != nil {
			fmt.Fprintf(s.stderr, "读取导入历史失败：%v\n", err)
			s.code = 1
			return nil
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{e.SceneID, e.Workspace, orDash(e.Band), orDash(e.Layer), e.Status, e.ErrorCode})
		}
		report.WriteTable(s.stdout, []string{"SCENE", "MAPSET", "BAND", "LAYER", "STATUS", "ERROR"}, rows)
		return nil
	}

	runs, err := st.Runs(s.ctx, c.Int("limit"))
	if err != nil {
		fmt.Fprintf(s.stderr, "读取导入历史失败：%v\n", err)
		s.code = 1
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		sm := r.Summary
		rows = append(rows, []string{
			r.ID,
			r.Mode,
			humanize.Time(r.StartedAt),
			formatShortDuration(r.FinishedAt.Sub(r.StartedAt)),
			strconv.Itoa(sm.Scenes),
			humanize.Comma(int64(sm.Imported + sm.Linked)),
			humanize.Comma(int64(sm.Skipped)),
			strconv.Itoa(sm.Failed + sm.Excluded + sm.BandsFailed),
			orDash(r.Aborted),
		})
	}
	report.WriteTable(s.stdout, []string{"RUN", "MODE", "STARTED", "TOOK", "SCENES", "WRITTEN", "SKIPPED", "FAILED", "ABORTED"}, rows)
	return nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
