package archive

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/infra/fsx"
)

// 按“最长后缀优先”排列，保证 .tar.gz 不会被当成 .gz 之外的东西截断。
var suffixes = []string{".tar.gz", ".tar.bz2", ".tgz", ".tbz2", ".tbz", ".tar"}

// Error 是 Archive Resolver 的结构化错误（error_code=archive_error）。
type Error struct {
	Ref string
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s：%s 失败：%v", e.Ref, e.Op, e.Err)
	}
	return fmt.Sprintf("%s：%s 失败", e.Ref, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorCode() string { return domain.ErrCodeArchive }

// Resolved 是 Resolve 的结果。
type Resolved struct {
	Dir         string
	FromArchive bool
	// Extracted 表示本次调用真正做了解包（复用已有目录时为 false）。
	Extracted bool
	Bytes     int64
}

// IsArchive 判断文件名是否为支持的压缩包。
func IsArchive(name string) bool {
	_, ok := suffixOf(name)
	return ok
}

// BaseName 去掉目录与压缩后缀：/data/LC8...00.tar.gz -> LC8...00。
func BaseName(name string) string {
	base := filepath.Base(name)
	if sfx, ok := suffixOf(base); ok {
		return base[:len(base)-len(sfx)]
	}
	return base
}

func suffixOf(name string) (string, bool) {
	low := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(low, s) && len(low) > len(s) {
			return s, true
		}
	}
	return "", false
}

// Resolve 把 scene 引用规范化为一个平铺文件的目录。
//
// - 目录：原样返回（clean + absolute）
// - 压缩包：解包到同级目录 <base>；该目录已存在则直接复用（幂等，不重复解包）
func Resolve(ctx context.Context, ref string) (Resolved, error) {
	abs, err := filepath.Abs(strings.TrimSpace(ref))
	if err != nil {
		return Resolved{}, &Error{Ref: ref, Op: "规范化路径", Err: err}
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return Resolved{}, &Error{Ref: ref, Op: "读取", Err: err}
	}
	if fi.IsDir() {
		return Resolved{Dir: abs}, nil
	}
	if !fi.Mode().IsRegular() || !IsArchive(abs) {
		return Resolved{}, &Error{Ref: ref, Op: "识别", Err: errors.New("既不是目录也不是支持的压缩包（.tar/.tar.gz/.tgz/.tar.bz2）")}
	}

	dst := filepath.Join(filepath.Dir(abs), BaseName(abs))
	if di, err := os.Stat(dst); err == nil {
		if !di.IsDir() {
			return Resolved{}, &Error{Ref: ref, Op: "解包", Err: &fsx.PathTypeConflictError{Path: dst, Want: "dir", Got: "file"}}
		}
		return Resolved{Dir: dst, FromArchive: true}, nil
	}

	n, err := extract(ctx, abs, dst)
	if err != nil {
		return Resolved{}, &Error{Ref: ref, Op: "解包", Err: err}
	}
	return Resolved{Dir: dst, FromArchive: true, Extracted: true, Bytes: n}, nil
}

// Remove 删除由压缩包解出的目录；对普通目录引用不做任何事。
func Remove(r Resolved) error {
	if !r.FromArchive || r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// maxMemberBytes 限制 Find 读入内存的成员大小（MTL 只有几十 KB）。
const maxMemberBytes = 4 << 20

// Find 不解包地查找 basename 满足 match 的普通文件成员，返回全部匹配的 basename 及第一个匹配成员的内容。
// count 模式用它读取压缩包里的 MTL。
func Find(ref string, match func(name string) bool) ([]string, []byte, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, nil, &Error{Ref: ref, Op: "读取", Err: err}
	}
	defer f.Close()

	tr, closeFn, err := openTar(f, ref)
	if err != nil {
		return nil, nil, &Error{Ref: ref, Op: "读取", Err: err}
	}
	defer closeFn()

	var (
		names []string
		first []byte
	)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &Error{Ref: ref, Op: "读取", Err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		base := filepath.Base(hdr.Name)
		if !match(base) {
			continue
		}
		names = append(names, base)
		if len(names) > 1 {
			continue
		}
		if hdr.Size > maxMemberBytes {
			return nil, nil, &Error{Ref: ref, Op: "读取", Err: fmt.Errorf("成员 %s 过大（%d 字节）", hdr.Name, hdr.Size)}
		}
		if first, err = io.ReadAll(io.LimitReader(tr, maxMemberBytes)); err != nil {
			return nil, nil, &Error{Ref: ref, Op: "读取", Err: err}
		}
	}
	return names, first, nil
}

func openTar(r io.Reader, name string) (*tar.Reader, func(), error) {
	sfx, _ := suffixOf(name)
	switch sfx {
	case ".tar.gz", ".tgz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(zr), func() { _ = zr.Close() }, nil
	case ".tar.bz2", ".tbz2", ".tbz":
		return tar.NewReader(bzip2.NewReader(r)), func() {}, nil
	default:
		return tar.NewReader(r), func() {}, nil
	}
}

// extract 先解到同级隐藏临时目录，完整成功后再 rename 为 dst；
// 中途失败（坏包、空间不足、ctx 取消）不会留下半成品目录。
func extract(ctx context.Context, src, dst string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tr, closeFn, err := openTar(f, src)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	tmp, err := os.MkdirTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		rel, err := safeRel(hdr.Name)
		if err != nil {
			return 0, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(tmp, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, err
			}
		case tar.TypeReg:
			n, err := writeEntry(target, tr)
			if err != nil {
				return 0, err
			}
			total += n
		default:
			// Landsat 包只含普通文件；链接/设备等条目直接忽略。
		}
	}

	root, err := flattenRoot(tmp)
	if err != nil {
		return 0, err
	}
	if err := fsx.CommitDir(root, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

func safeRel(name string) (string, error) {
	name = filepath.FromSlash(strings.TrimSpace(name))
	if name == "" || name == "." || name == "./" {
		return "", nil
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("压缩包条目使用绝对路径：%q", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("压缩包条目越界：%q", name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func writeEntry(target string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// flattenRoot：包内只有一个顶层目录（且没有顶层文件）时，把该目录当作 scene 目录。
func flattenRoot(tmp string) (string, error) {
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(tmp, entries[0].Name()), nil
	}
	return tmp, nil
}
