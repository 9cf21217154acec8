// Package grass 通过 GRASS GIS 命令行模块实现 engine.Engine。
//
// 必须在 GRASS 会话内运行（GISRC/GISBASE 已由 grass 启动脚本设置）。
package grass

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine"
	"github.com/John-Robertt/lsimport/internal/mtl"
	"github.com/John-Robertt/lsimport/internal/timestamp"
)

// Runner 执行一个 GRASS 模块并返回 stdout/stderr。
type Runner interface {
	Run(ctx context.Context, module string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner 用 os/exec 调用模块；BinDir 为空时按 PATH 查找。
type ExecRunner struct {
	BinDir string
}

func (r ExecRunner) Run(ctx context.Context, module string, args ...string) ([]byte, []byte, error) {
	name := module
	if r.BinDir != "" {
		name = filepath.Join(r.BinDir, module)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// Engine 是 GRASS 的 engine.Engine 实现。
type Engine struct {
	run Runner
	env *engine.Env
}

var _ engine.Engine = (*Engine)(nil)

func New(r Runner) *Engine {
	return &Engine{run: r}
}

func (g *Engine) call(ctx context.Context, module string, args ...string) ([]byte, error) {
	out, stderr, err := g.run.Run(ctx, module, args...)
	if err != nil {
		return out, &engine.CommandError{Module: module, Args: args, Stderr: string(stderr), Err: err}
	}
	return out, nil
}

func (g *Engine) Env(ctx context.Context) (engine.Env, error) {
	out, err := g.call(ctx, "g.gisenv", "-n")
	if err != nil {
		return engine.Env{}, err
	}
	kv := parseKV(out)
	env := engine.Env{GISDBase: kv["GISDBASE"], Location: kv["LOCATION_NAME"], Mapset: kv["MAPSET"]}
	if env.GISDBase == "" || env.Location == "" || env.Mapset == "" {
		return engine.Env{}, fmt.Errorf("g.gisenv 输出缺少 GISDBASE/LOCATION_NAME/MAPSET：%q", strings.TrimSpace(string(out)))
	}
	g.env = &env
	return env, nil
}

func (g *Engine) Projection(ctx context.Context) (string, error) {
	out, err := g.call(ctx, "g.proj", "-g")
	if err != nil {
		return "", err
	}
	return canonicalProjection(parseKV(out)), nil
}

// canonicalProjection 把 g.proj -g 的输出转成与 MTL 相同的写法：EPSG:326ZZ / PROJ:<name>:<datum>。
func canonicalProjection(kv map[string]string) string {
	if srid := strings.TrimSpace(kv["srid"]); srid != "" {
		return strings.ToUpper(srid)
	}
	proj := strings.ToUpper(kv["proj"])
	datum := strings.ToUpper(kv["datum"])
	if datum == "" {
		datum = "WGS84"
	}
	if proj == "UTM" {
		zone, err := strconv.Atoi(kv["zone"])
		if err == nil {
			if _, south := kv["south"]; south {
				zone = -zone
			}
			if datum == "WGS84" {
				return mtl.UTMCode(zone)
			}
			return fmt.Sprintf("PROJ:UTM%d:%s", zone, datum)
		}
	}
	return fmt.Sprintf("PROJ:%s:%s", proj, datum)
}

func (g *Engine) MapsetExists(ctx context.Context, name string) (bool, error) {
	out, err := g.call(ctx, "g.mapsets", "-l", "separator=newline")
	if err != nil {
		return false, err
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == name {
			return true, nil
		}
	}
	return false, sc.Err()
}

func (g *Engine) CreateMapset(ctx context.Context, name string) error {
	_, err := g.call(ctx, "g.mapset", "-c", "mapset="+name, "--quiet")
	if err == nil && g.env != nil {
		g.env.Mapset = name
	}
	return err
}

func (g *Engine) SwitchMapset(ctx context.Context, name string) error {
	_, err := g.call(ctx, "g.mapset", "mapset="+name, "--quiet")
	if err == nil && g.env != nil {
		g.env.Mapset = name
	}
	return err
}

func (g *Engine) AuxDir(ctx context.Context, mapset string) (string, error) {
	env := g.env
	if env == nil {
		e, err := g.Env(ctx)
		if err != nil {
			return "", err
		}
		env = &e
	}
	return filepath.Join(env.GISDBase, env.Location, mapset, "cell_misc"), nil
}

func (g *Engine) LayerExists(ctx context.Context, mapset, layer string) (bool, error) {
	out, stderr, err := g.run.Run(ctx, "g.findfile", "element=cell", "file="+layer, "mapset="+mapset)
	if file := parseKV(out)["file"]; file != "" {
		return true, nil
	}
	if err == nil {
		return false, nil
	}
	// g.findfile 找不到时以退出码 1 结束。
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == 1 {
		return false, nil
	}
	return false, &engine.CommandError{Module: "g.findfile", Stderr: string(stderr), Err: err}
}

func importArgs(req engine.ImportRequest) []string {
	args := []string{"input=" + req.File, "output=" + req.Layer, "title=" + req.Title}
	if req.OverrideProjection {
		args = append(args, "-o")
	}
	if req.Overwrite {
		args = append(args, "--overwrite")
	}
	return args
}

func (g *Engine) Import(ctx context.Context, req engine.ImportRequest) error {
	args := importArgs(req)
	if req.MemoryMB > 0 {
		args = append(args, "memory="+strconv.Itoa(req.MemoryMB))
	}
	_, err := g.call(ctx, "r.in.gdal", append(args, "--quiet")...)
	return err
}

func (g *Engine) Link(ctx context.Context, req engine.ImportRequest) error {
	_, err := g.call(ctx, "r.external", append(importArgs(req), "--quiet")...)
	return err
}

func (g *Engine) Timestamp(ctx context.Context, mapset, layer string) (string, bool, error) {
	out, err := g.call(ctx, "r.timestamp", "map="+layer+"@"+mapset)
	if err != nil {
		return "", false, err
	}
	v := strings.TrimSpace(string(out))
	if v == "" || strings.EqualFold(v, "none") {
		return "", false, nil
	}
	return v, true, nil
}

func (g *Engine) SetTimestamp(ctx context.Context, layer string, ts domain.Timestamp) error {
	_, err := g.call(ctx, "r.timestamp", "map="+layer, "date="+timestamp.GRASSDate(ts))
	return err
}

// parseKV 解析 KEY=VALUE 行（兼容 g.gisenv 的 `KEY='value';` 写法）。
func parseKV(b []byte) map[string]string {
	kv := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		v = strings.TrimSuffix(strings.TrimSpace(v), ";")
		v = strings.Trim(v, `'"`)
		kv[strings.TrimSpace(k)] = v
	}
	return kv
}
