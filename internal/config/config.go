package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/timestamp"
)

const (
	// ErrCodeInvalid 表示配置文件/.env/环境变量无法读取、解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeUsage 表示命令行参数组合不合法（CLI 以退出码 2 结束）。
	ErrCodeUsage = "usage_invalid"
)

const (
	FileName   = "lsimport.yaml"
	DotEnvName = ".env"
	EnvPrefix  = "LSIMPORT_"

	// DefaultMemoryMB 是物化导入的缓存大小（MB）。
	DefaultMemoryMB = 300
	MaxMemoryMB     = 2047

	// HistoryDisabled 作为 history_db 的值时关闭导入历史。
	HistoryDisabled = "none"
)

const (
	CmdImport     = "import"
	CmdList       = "list"
	CmdCount      = "count"
	CmdTimestamps = "timestamps"
	CmdHistory    = "history"
)

// 测试可替换：读取进程环境变量。
var lookupEnv = os.LookupEnv

// CLIArgs 是命令行给出的值；可被配置文件提供的项都带 "是否显式指定" 标记，
// 以保证 --link=false 能覆盖配置中的 link: true。
type CLIArgs struct {
	Command string

	Scenes []string
	Pool   string

	OneMapset bool
	Mapset    string

	Bands     []string
	Timestamp string
	Suffix    string
	TGISFile  string

	DryRun          bool
	RemoveExtracted bool

	Link                  bool
	LinkSet               bool
	CopyMetadata          bool
	CopyMetadataSet       bool
	OverrideProjection    bool
	OverrideProjectionSet bool
	SkipExisting          bool
	SkipExistingSet       bool
	Overwrite             bool
	OverwriteSet          bool
	ForceTimestamp        bool
	ForceTimestampSet     bool

	MemoryMB    int
	MemoryMBSet bool

	HistoryDB    string
	HistoryDBSet bool
	LogLevel     string
	LogLevelSet  bool
	GrassBin     string
	GrassBinSet  bool
}

// FileConfig 对应 lsimport.yaml（也是 .env / LSIMPORT_* 覆盖的字段集合）。
type FileConfig struct {
	MemoryMB           *int   `yaml:"memory"`
	Link               *bool  `yaml:"link"`
	CopyMetadata       *bool  `yaml:"copy_metadata"`
	OverrideProjection *bool  `yaml:"override_projection"`
	SkipExisting       *bool  `yaml:"skip_existing"`
	Overwrite          *bool  `yaml:"overwrite"`
	ForceTimestamp     *bool  `yaml:"force_timestamp"`
	HistoryDB          string `yaml:"history_db"`
	LogLevel           string `yaml:"log_level"`
	GrassBin           string `yaml:"grass_bin"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Command string

	Scenes []string
	Pool   string

	// SharedMapset 非空表示 -1：所有 scene 导入同一个 mapset。
	SharedMapset string

	Bands     []domain.Band
	Timestamp *domain.Timestamp
	Suffix    string
	TGISFile  string

	DryRun          bool
	RemoveExtracted bool

	Link               bool
	CopyMetadata       bool
	OverrideProjection bool
	SkipExisting       bool
	Overwrite          bool
	ForceTimestamp     bool
	MemoryMB           int

	// HistoryDB 为空表示关闭导入历史。
	HistoryDB string
	LogLevel  slog.Level
	GrassBin  string

	// Sources 记录实际读取到的配置来源（用于启动时展示）。
	Sources []string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code == ErrCodeUsage && e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s：%q 无效：%v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorCode() string { return e.Code }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func usage(format string, args ...any) error {
	return &Error{Code: ErrCodeUsage, Err: fmt.Errorf(format, args...)}
}

// LoadEffective 读取 cwd 下的配置并与 CLI 参数合并。
//
// 覆盖优先级（固定）：默认值 < lsimport.yaml < .env < LSIMPORT_* 环境变量 < CLI。
// 两个文件都是可选的。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var sources []string

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if exists {
		sources = append(sources, cfgPath)
	}

	envPath := filepath.Join(cwdAbs, DotEnvName)
	dotenv, err := readDotEnv(envPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: envPath, Err: err}
	}
	if dotenv != nil {
		sources = append(sources, envPath)
	}
	if err := applyEnv(&fc, dotenv); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: envPath, Err: err}
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Sources = sources
	return eff, nil
}

func merge(cwd string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Command:         cli.Command,
		Suffix:          cli.Suffix,
		DryRun:          cli.DryRun,
		RemoveExtracted: cli.RemoveExtracted,
		CopyMetadata:    true,
		MemoryMB:        DefaultMemoryMB,
		LogLevel:        slog.LevelInfo,
	}

	pickBool(&eff.Link, fc.Link, cli.Link, cli.LinkSet)
	pickBool(&eff.CopyMetadata, fc.CopyMetadata, cli.CopyMetadata, cli.CopyMetadataSet)
	pickBool(&eff.OverrideProjection, fc.OverrideProjection, cli.OverrideProjection, cli.OverrideProjectionSet)
	pickBool(&eff.SkipExisting, fc.SkipExisting, cli.SkipExisting, cli.SkipExistingSet)
	pickBool(&eff.Overwrite, fc.Overwrite, cli.Overwrite, cli.OverwriteSet)
	pickBool(&eff.ForceTimestamp, fc.ForceTimestamp, cli.ForceTimestamp, cli.ForceTimestampSet)

	if fc.MemoryMB != nil {
		eff.MemoryMB = *fc.MemoryMB
	}
	if cli.MemoryMBSet {
		eff.MemoryMB = cli.MemoryMB
	}
	if eff.MemoryMB < 0 || eff.MemoryMB > MaxMemoryMB {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("memory 必须在 [0, %d]，实际 %d", MaxMemoryMB, eff.MemoryMB)}
	}

	level := fc.LogLevel
	if cli.LogLevelSet {
		level = cli.LogLevel
	}
	if strings.TrimSpace(level) != "" {
		if err := eff.LogLevel.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("log_level 无效：%q", level)}
		}
	}

	eff.GrassBin = strings.TrimSpace(fc.GrassBin)
	if cli.GrassBinSet {
		eff.GrassBin = strings.TrimSpace(cli.GrassBin)
	}
	if eff.GrassBin != "" {
		eff.GrassBin = absCleanFrom(cwd, eff.GrassBin)
	}

	history := strings.TrimSpace(fc.HistoryDB)
	if cli.HistoryDBSet {
		history = strings.TrimSpace(cli.HistoryDB)
	}
	eff.HistoryDB = resolveHistory(cwd, history)

	if err := validateUsage(cwd, cli, &eff); err != nil {
		return EffectiveConfig{}, err
	}
	return eff, nil
}

// validateUsage 校验命令行组合规则并填充 scene 来源、band、手工时间戳等。
func validateUsage(cwd string, cli CLIArgs, eff *EffectiveConfig) error {
	scenes := make([]string, 0, len(cli.Scenes))
	for _, s := range cli.Scenes {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				scenes = append(scenes, absCleanFrom(cwd, part))
			}
		}
	}
	pool := strings.TrimSpace(cli.Pool)
	if pool != "" {
		pool = absCleanFrom(cwd, pool)
	}

	switch cli.Command {
	case CmdHistory:
		if eff.HistoryDB == "" {
			return usage("history 需要启用 history_db")
		}
		return nil
	case CmdCount:
		if pool == "" || len(scenes) > 0 {
			return usage("count 只接受 --pool")
		}
	default:
		if (pool == "") == (len(scenes) == 0) {
			return usage("必须且只能指定 --scene 或 --pool 之一")
		}
	}
	eff.Scenes, eff.Pool = scenes, pool

	if eff.SkipExisting && eff.Overwrite {
		return usage("-s（跳过已存在）与 --overwrite 互斥")
	}
	if cli.OneMapset && strings.TrimSpace(cli.Mapset) == "" {
		return usage("-1 需要同时指定 --mapset")
	}
	if !cli.OneMapset && strings.TrimSpace(cli.Mapset) != "" {
		return usage("--mapset 只在 -1 时有效")
	}
	if cli.OneMapset {
		eff.SharedMapset = strings.TrimSpace(cli.Mapset)
	}
	if cli.RemoveExtracted && len(scenes) == 0 {
		return usage("-r 只能与 --scene 一起使用")
	}

	seen := map[domain.Band]bool{}
	for _, raw := range cli.Bands {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			b, ok := domain.ParseBand(part)
			if !ok {
				return usage("未知波段：%q", part)
			}
			if !seen[b] {
				seen[b] = true
				eff.Bands = append(eff.Bands, b)
			}
		}
	}
	domain.SortBands(eff.Bands)

	if strings.TrimSpace(cli.Timestamp) != "" {
		ts, err := timestamp.Parse(cli.Timestamp)
		if err != nil {
			return &Error{Code: ErrCodeUsage, Err: err}
		}
		eff.Timestamp = &ts
	}
	if strings.TrimSpace(cli.TGISFile) != "" {
		eff.TGISFile = absCleanFrom(cwd, cli.TGISFile)
	}
	return nil
}

func pickBool(dst *bool, file *bool, cli, cliSet bool) {
	if file != nil {
		*dst = *file
	}
	if cliSet {
		*dst = cli
	}
}

func resolveHistory(cwd, v string) string {
	switch {
	case strings.EqualFold(v, HistoryDisabled):
		return ""
	case v != "":
		return absCleanFrom(cwd, v)
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lsimport", "history.db")
	}
	return filepath.Join(cwd, ".lsimport", "history.db")
}

// applyEnv 依次叠加 .env 与进程环境中的 LSIMPORT_*（进程环境优先）。
func applyEnv(fc *FileConfig, dotenv map[string]string) error {
	get := func(key string) (string, bool) {
		if v, ok := lookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}

	bools := []struct {
		key string
		dst **bool
	}{
		{"LINK", &fc.Link},
		{"COPY_METADATA", &fc.CopyMetadata},
		{"OVERRIDE_PROJECTION", &fc.OverrideProjection},
		{"SKIP_EXISTING", &fc.SkipExisting},
		{"OVERWRITE", &fc.Overwrite},
		{"FORCE_TIMESTAMP", &fc.ForceTimestamp},
	}
	for _, b := range bools {
		v, ok := get(b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s 不是合法布尔值：%q", EnvPrefix, b.key, v)
		}
		*b.dst = &parsed
	}

	if v, ok := get("MEMORY"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMEMORY 不是整数：%q", EnvPrefix, v)
		}
		fc.MemoryMB = &n
	}
	if v, ok := get("HISTORY_DB"); ok {
		fc.HistoryDB = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		fc.LogLevel = v
	}
	if v, ok := get("GRASS_BIN"); ok {
		fc.GrassBin = v
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件；未知字段视为错误。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// readDotEnv 读取 .env；文件不存在时返回 nil map。
func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return godotenv.Read(path)
}
