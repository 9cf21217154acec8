package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 解包目录与临时目录总在同一父目录下创建，出现 EXDEV 说明挂载布局异常，直接失败。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘 rename 失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// CommitDir 把已完整写好的临时目录 tmp 提交为 dst。
//
// 若 dst 已存在（并发/重复运行抢先提交），返回 os.ErrExist，调用方应直接复用 dst 并清理 tmp。
func CommitDir(tmp, dst string) error {
	if fi, err := os.Lstat(dst); err == nil {
		if !fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "dir", Got: "file"}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := Rename(tmp, dst); err != nil {
		if fi, e := os.Stat(dst); e == nil && fi.IsDir() {
			return os.ErrExist
		}
		return err
	}
	_ = syncDirBestEffort(filepath.Dir(dst))
	return nil
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（同目录临时文件 + rename），目标已存在则覆盖。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644)
}

// CopyFileAtomicNoOverwrite 把 src 复制为 dir/name；目标已存在返回 os.ErrExist。
// 用于把 MTL 复制进 mapset 的 cell_misc（重复运行不会覆盖已有副本）。
//
// 提交用 link(2)：目标在检查之后才出现时 link 失败，已有文件不会被替换。
func CopyFileAtomicNoOverwrite(src, dir, name string) error {
	if err := checkNoOverwrite(filepath.Join(filepath.Clean(dir), name)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeAtomic(dir, name, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}, commitNoOverwrite)
}

func commitNoOverwrite(tmp, dst string) error {
	err := linkFunc(tmp, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		if e := checkNoOverwrite(dst); e != nil {
			return e
		}
		return os.ErrExist
	}
	// 文件系统不支持硬链接：退化为检查后 rename，此时不防并发写入。
	if e := checkNoOverwrite(dst); e != nil {
		return e
	}
	return Rename(tmp, dst)
}

func checkNoOverwrite(dst string) error {
	fi, err := os.Lstat(dst)
	if err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	}
	if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	return writeAtomic(dir, name, perm, func(w io.Writer) error {
		return writeAll(w, data)
	}, Rename)
}

// writeAtomic 写同目录临时文件，再用 commit 把它提交为 dir/name；临时文件总会被清理。
func writeAtomic(dir, name string, perm os.FileMode, fill func(io.Writer) error, commit func(tmp, dst string) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 同目录隐藏临时文件；GRASS 不会把 '.' 开头的文件当作数据元素。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := commit(tmpName, dst); err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
