package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicReplace_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomicReplace(dir, "a.txt", []byte("old")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := WriteFileAtomicReplace(dir, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("覆盖不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("内容不一致：%q", string(b))
	}
	assertNoTemp(t, dir, "a.txt")
}

func TestWriteFileAtomicReplace_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	if err := WriteFileAtomicReplace(dir, "a.txt", []byte("hello")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}
	assertNoTemp(t, dir, "a.txt")
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("不应写出最终文件，Stat err=%v", err)
	}
}

func TestCopyFileAtomicNoOverwrite_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src_MTL.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入源文件失败：%v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "a.txt"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := CopyFileAtomicNoOverwrite(src, dir, "a.txt")
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestCopyFileAtomicNoOverwrite_CopiesOnceThenErrExist(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "LC81840332014146LGN00_MTL.txt")
	if err := os.WriteFile(src, []byte("GROUP = L1_METADATA_FILE\n"), 0o644); err != nil {
		t.Fatalf("写入源文件失败：%v", err)
	}
	dst := filepath.Join(dir, "mapset", "cell_misc")

	if err := CopyFileAtomicNoOverwrite(src, dst, filepath.Base(src)); err != nil {
		t.Fatalf("首次复制不期望错误：%v", err)
	}
	b, err := os.ReadFile(filepath.Join(dst, filepath.Base(src)))
	if err != nil || string(b) != "GROUP = L1_METADATA_FILE\n" {
		t.Fatalf("复制内容不一致：%q err=%v", string(b), err)
	}

	err = CopyFileAtomicNoOverwrite(src, dst, filepath.Base(src))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("重复复制应返回 os.ErrExist，实际：%v", err)
	}
	assertNoTemp(t, dst, filepath.Base(src))
}

func TestCopyFileAtomicNoOverwrite_TargetAppearsBeforeCommit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "LC81840332014146LGN00_MTL.txt")
	if err := os.WriteFile(src, []byte("ours"), 0o644); err != nil {
		t.Fatalf("写入源文件失败：%v", err)
	}
	dst := filepath.Join(dir, "cell_misc")

	// 检查通过之后、提交之前，另一个进程抢先写入目标。
	old := linkFunc
	linkFunc = func(oldname, newname string) error {
		if err := os.WriteFile(newname, []byte("theirs"), 0o644); err != nil {
			t.Fatalf("写入抢先文件失败：%v", err)
		}
		return os.Link(oldname, newname)
	}
	defer func() { linkFunc = old }()

	err := CopyFileAtomicNoOverwrite(src, dst, filepath.Base(src))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("期望 os.ErrExist，实际：%v", err)
	}
	b, err := os.ReadFile(filepath.Join(dst, filepath.Base(src)))
	if err != nil || string(b) != "theirs" {
		t.Fatalf("已存在的目标不应被替换：%q err=%v", string(b), err)
	}
	assertNoTemp(t, dst, filepath.Base(src))
}

func TestCommitDir_ExistingTargetIsReused(t *testing.T) {
	parent := t.TempDir()
	tmp := filepath.Join(parent, ".scene.tmp-1")
	dst := filepath.Join(parent, "scene")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	if err := CommitDir(tmp, dst); err != nil {
		t.Fatalf("首次提交不期望错误：%v", err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatalf("提交后临时目录应消失，Stat err=%v", err)
	}

	if err := os.MkdirAll(tmp, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := CommitDir(tmp, dst); !errors.Is(err, os.ErrExist) {
		t.Fatalf("目标已存在应返回 os.ErrExist，实际：%v", err)
	}
}

func assertNoTemp(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "."+name+".tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}
