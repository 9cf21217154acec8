package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/lsimport/internal/archive"
	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/mtl"
)

// Candidate 是一个待解析的 scene 引用（目录或压缩包）。
type Candidate struct {
	// Name 是 scene ID：目录 basename，或去掉压缩后缀的压缩包 basename。
	Name string
	Ref  string
	// Archive 表示 Ref 是压缩包；目录与同名压缩包并存时合并为目录候选，压缩包记在 ArchiveRef。
	Archive    bool
	ArchiveRef string
}

// ExcludedError 表示某个候选无法成为 SceneUnit；枚举会继续。
type ExcludedError struct {
	Name string
	Ref  string
	Err  error
}

func (e *ExcludedError) Error() string {
	return fmt.Sprintf("scene %s 已排除：%v", e.Name, e.Err)
}

func (e *ExcludedError) Unwrap() error { return e.Err }

func (e *ExcludedError) ErrorCode() string { return domain.ErrorCode(e.Err) }

// DuplicateError 表示同一 scene ID 在本次运行中出现了多次（保留第一次）。
type DuplicateError struct {
	SceneID string
	First   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("scene ID 重复：%s（已由 %s 提供）", e.SceneID, e.First)
}

func (e *DuplicateError) ErrorCode() string { return domain.ErrCodeDuplicateScene }

// Candidates 根据显式引用列表或 pool 目录生成候选。
//
// 规则（硬约束）：
// - 显式列表：保持用户给出的顺序
// - pool：只看直接子项（子目录 + 支持的压缩包），按名称字典序；以 '.' 开头的隐藏项跳过（含解包临时目录）
// - pool 中 X 与 X.tar.gz 并存时只产生一个候选（已解包目录优先）
func Candidates(refs []string, pool string) ([]Candidate, error) {
	if pool == "" {
		out := make([]Candidate, 0, len(refs))
		for _, r := range refs {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			out = append(out, Candidate{Name: archive.BaseName(r), Ref: r, Archive: archive.IsArchive(r)})
		}
		return out, nil
	}

	entries, err := os.ReadDir(pool)
	if err != nil {
		return nil, err
	}
	byName := map[string]*Candidate{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(pool, name)
		isDir := e.IsDir()
		if e.Type()&os.ModeSymlink != 0 {
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			isDir = fi.IsDir()
		}

		switch {
		case isDir:
			c := byName[name]
			if c == nil {
				byName[name] = &Candidate{Name: name, Ref: path}
				continue
			}
			// 先遇到了同名压缩包：改为目录候选。
			c.ArchiveRef, c.Ref, c.Archive = c.Ref, path, false
		case archive.IsArchive(name):
			base := archive.BaseName(name)
			c := byName[base]
			if c == nil {
				byName[base] = &Candidate{Name: base, Ref: path, Archive: true}
				continue
			}
			if !c.Archive && c.ArchiveRef == "" {
				c.ArchiveRef = path
			}
		}
	}

	out := make([]Candidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Catalog 把候选惰性地物化为 SceneUnit。
type Catalog struct {
	cands []Candidate

	// OnResolved 在每个候选解包/定位完成后被调用（可为 nil），CLI 用它展示解包进度。
	OnResolved func(c Candidate, r archive.Resolved)
}

func New(cands []Candidate) *Catalog {
	return &Catalog{cands: cands}
}

func (c *Catalog) Len() int { return len(c.cands) }

// Scenes 按候选顺序逐个解析；失败的候选以 *ExcludedError 形式产出，调用方可随时停止。
func (c *Catalog) Scenes(ctx context.Context) iter.Seq2[domain.SceneUnit, error] {
	return func(yield func(domain.SceneUnit, error) bool) {
		seen := map[string]string{}
		for _, cand := range c.cands {
			if err := ctx.Err(); err != nil {
				yield(domain.SceneUnit{}, err)
				return
			}

			if first, dup := seen[cand.Name]; dup {
				ex := &ExcludedError{Name: cand.Name, Ref: cand.Ref, Err: &DuplicateError{SceneID: cand.Name, First: first}}
				if !yield(domain.SceneUnit{}, ex) {
					return
				}
				continue
			}

			u, err := c.materialize(ctx, cand)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					yield(domain.SceneUnit{}, err)
					return
				}
				if !yield(domain.SceneUnit{}, &ExcludedError{Name: cand.Name, Ref: cand.Ref, Err: err}) {
					return
				}
				continue
			}
			seen[cand.Name] = cand.Ref
			if !yield(u, nil) {
				return
			}
		}
	}
}

func (c *Catalog) materialize(ctx context.Context, cand Candidate) (domain.SceneUnit, error) {
	r, err := archive.Resolve(ctx, cand.Ref)
	if err != nil {
		return domain.SceneUnit{}, err
	}
	if cand.ArchiveRef != "" {
		// 目录是同名压缩包的解包产物：允许 -r 清理。
		r.FromArchive = true
	}
	if c.OnResolved != nil {
		c.OnResolved(cand, r)
	}

	meta, err := mtl.Load(r.Dir, cand.Name)
	if err != nil {
		return domain.SceneUnit{}, err
	}
	return domain.SceneUnit{
		SceneID:     cand.Name,
		Dir:         r.Dir,
		Source:      cand.Ref,
		FromArchive: r.FromArchive,
		Metadata:    meta,
	}, nil
}

// Count 返回 Scenes 会产出的 SceneUnit 个数：同样解析 MTL、同样排除重复 ID，
// 但压缩包只读取其中的 MTL 成员而不解包。onExcluded 非 nil 时对每个被排除的候选调用一次。
func Count(ctx context.Context, cands []Candidate, onExcluded func(*ExcludedError)) (int, error) {
	seen := map[string]string{}
	n := 0
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var ex *ExcludedError
		if first, dup := seen[cand.Name]; dup {
			ex = &ExcludedError{Name: cand.Name, Ref: cand.Ref, Err: &DuplicateError{SceneID: cand.Name, First: first}}
		} else if _, err := peekMetadata(cand); err != nil {
			ex = &ExcludedError{Name: cand.Name, Ref: cand.Ref, Err: err}
		}
		if ex != nil {
			if onExcluded != nil {
				onExcluded(ex)
			}
			continue
		}
		seen[cand.Name] = cand.Ref
		n++
	}
	return n, nil
}

// peekMetadata 读取候选的元数据但不产生任何文件。已解包的同名目录优先，与 archive.Resolve 一致。
func peekMetadata(cand Candidate) (domain.SceneMetadata, error) {
	if !cand.Archive {
		if _, err := os.Stat(cand.Ref); err != nil {
			return domain.SceneMetadata{}, &archive.Error{Ref: cand.Ref, Op: "读取", Err: err}
		}
		return mtl.Load(cand.Ref, cand.Name)
	}
	dir := filepath.Join(filepath.Dir(cand.Ref), archive.BaseName(cand.Ref))
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return mtl.Load(dir, cand.Name)
	}

	names, body, err := archive.Find(cand.Ref, mtl.IsMetadataName)
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	if len(names) != 1 {
		return domain.SceneMetadata{}, &mtl.NotFoundError{Dir: cand.Ref, Found: names}
	}
	rec, err := mtl.Parse(bytes.NewReader(body))
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	return mtl.Build(rec, filepath.Join(dir, names[0]), cand.Name)
}
