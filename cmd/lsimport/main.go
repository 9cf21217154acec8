package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/John-Robertt/lsimport/internal/config"
	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine"
	"github.com/John-Robertt/lsimport/internal/engine/grass"
	"github.com/John-Robertt/lsimport/internal/report"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

// 测试可替换。
var (
	getwd     = os.Getwd
	newEngine = func(eff config.EffectiveConfig) engine.Engine {
		return grass.New(grass.ExecRunner{BinDir: eff.GrassBin})
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runCLI(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// session 是一次 CLI 调用的输出端与退出码。
type session struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	code   int
}

// runCLI 解析参数并执行子命令，返回进程退出码：0 成功；1 有 scene/波段失败或运行中止；2 用法错误。
func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	s := &session{ctx: ctx, stdout: stdout, stderr: stderr}

	app := cli.NewApp()
	app.Name = "lsimport"
	app.Usage = "把 Landsat scene（目录或压缩包）导入 GRASS 数据库"
	app.Version = version
	app.Writer = stdout
	app.ErrWriter = stderr
	app.HideVersion = true
	app.Commands = s.commands()
	app.Action = func(c *cli.Context) error {
		if c.NArg() > 0 {
			fmt.Fprintf(stderr, "未知命令：%q\n\n", c.Args().First())
			s.code = 2
		}
		cli.ShowAppHelp(c)
		return nil
	}
	app.OnUsageError = func(c *cli.Context, err error, _ bool) error {
		fmt.Fprintf(stderr, "参数错误：%v\n", err)
		return err
	}

	if err := app.Run(args); err != nil {
		return 2
	}
	return s.code
}

func (s *session) logger(eff config.EffectiveConfig) *slog.Logger {
	return slog.New(slog.NewTextHandler(s.stderr, &slog.HandlerOptions{Level: eff.LogLevel}))
}

// load 读取生效配置；用法错误直接以 2 结束，其余配置错误按导入失败（1）输出报告。
func (s *session) load(args config.CLIArgs) (config.EffectiveConfig, bool) {
	cwd, err := getwd()
	if err != nil {
		fmt.Fprintf(s.stderr, "读取当前目录失败：%v\n", err)
		s.code = 1
		return config.EffectiveConfig{}, false
	}
	eff, err := config.LoadEffective(cwd, args)
	if err == nil {
		return eff, true
	}
	if config.Code(err) == config.ErrCodeUsage {
		fmt.Fprintf(s.stderr, "参数错误：%v\n", err)
		s.code = 2
		return config.EffectiveConfig{}, false
	}
	if args.Command == config.CmdImport {
		s.emitReport(reportForConfigError(args, err))
	} else {
		fmt.Fprintf(s.stderr, "配置错误：%v\n", err)
	}
	s.code = 1
	return config.EffectiveConfig{}, false
}

// emitReport 遵守输出契约：stdout 为终端时打印表格摘要；否则 stdout 只输出一个 RunReport JSON，摘要走 stderr。
func (s *session) emitReport(rr domain.RunReport) {
	if isTTY(s.stdout) {
		report.WriteRunSummary(s.stdout, rr)
		return
	}
	enc := json.NewEncoder(s.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(s.stderr, "完成：scenes=%d imported=%d linked=%d skipped=%d failed=%d excluded=%d bands_failed=%d\n",
		rr.Summary.Scenes, rr.Summary.Imported, rr.Summary.Linked, rr.Summary.Skipped,
		rr.Summary.Failed, rr.Summary.Excluded, rr.Summary.BandsFailed,
	)
}

func reportForConfigError(args config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Mode:       "import",
		DryRun:     args.DryRun,
		StartedAt:  now,
		FinishedAt: now,
		Aborted:    config.Code(err),
		Items: []domain.SceneResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
			Bands:     []domain.BandResult{},
		}},
	}
	if args.DryRun {
		rr.Mode = "dry-run"
	}
	rr.Finalize()
	return rr
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// progressWriter 只在交互终端启用进度输出；默认走 stderr（不污染 stdout JSON）。
func (s *session) progressWriter() (io.Writer, bool) {
	if isTTY(s.stderr) {
		return s.stderr, true
	}
	// 仅重定向 stderr 时 stdout 仍是终端：退化输出到 stdout。
	if isTTY(s.stdout) {
		return s.stdout, true
	}
	return nil, false
}
