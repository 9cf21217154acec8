package catalog

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/lsimport/internal/archive"
	"github.com/John-Robertt/lsimport/internal/domain"
)

const mtlBody = "DATE_ACQUIRED = 2014-05-26\nSCENE_CENTER_TIME = \"09:10:26.7368720Z\"\nMAP_PROJECTION = \"UTM\"\nUTM_ZONE = 34\nFILE_NAME_BAND_1 = \"X_B1.TIF\"\nEND\n"

func TestCandidates_PoolSortedAndCollapsed(t *testing.T) {
	pool := t.TempDir()

	writeFile(t, filepath.Join(pool, "LC82", "LC82_MTL.txt"), mtlBody)
	writeFile(t, filepath.Join(pool, "LC81", "LC81_MTL.txt"), mtlBody)
	writeTarGz(t, filepath.Join(pool, "LC81.tar.gz"), map[string]string{"LC81_MTL.txt": mtlBody})
	writeTarGz(t, filepath.Join(pool, "LC80.tgz"), map[string]string{"LC80_MTL.txt": mtlBody})
	writeFile(t, filepath.Join(pool, "notes.txt"), "x")
	if err := os.MkdirAll(filepath.Join(pool, ".LC83.tmp-1"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	got, err := Candidates(nil, pool)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 3 {
		t.Fatalf("期望 3 个候选，实际 %d：%+v", len(got), got)
	}
	wantNames := []string{"LC80", "LC81", "LC82"}
	for i, w := range wantNames {
		if got[i].Name != w {
			t.Fatalf("第 %d 个期望 %q，实际 %q", i, w, got[i].Name)
		}
	}
	if !got[0].Archive {
		t.Fatalf("LC80 应为压缩包候选")
	}
	if got[1].Archive || got[1].ArchiveRef == "" {
		t.Fatalf("LC81 应合并为目录候选并记住压缩包：%+v", got[1])
	}
}

func TestCandidates_ExplicitKeepsOrder(t *testing.T) {
	got, err := Candidates([]string{"/d/B", " /d/A.tar.bz2 ", ""}, "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 || got[0].Name != "B" || got[1].Name != "A" || !got[1].Archive {
		t.Fatalf("显式候选不正确：%+v", got)
	}
}

func TestScenes_ExcludesBadAndDuplicateButContinues(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "a", "LC81")
	dup := filepath.Join(root, "b", "LC81")
	bad := filepath.Join(root, "LC82")
	other := filepath.Join(root, "LC83")
	writeFile(t, filepath.Join(good, "LC81_MTL.txt"), mtlBody)
	writeFile(t, filepath.Join(dup, "LC81_MTL.txt"), mtlBody)
	writeFile(t, filepath.Join(bad, "readme.txt"), "no metadata")
	writeFile(t, filepath.Join(other, "LC83_MTL.txt"), mtlBody)

	cands, err := Candidates([]string{good, dup, bad, other}, "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	var units []domain.SceneUnit
	var codes []string
	for u, err := range New(cands).Scenes(context.Background()) {
		if err != nil {
			var ex *ExcludedError
			if !errors.As(err, &ex) {
				t.Fatalf("期望 ExcludedError，实际 %v", err)
			}
			codes = append(codes, domain.ErrorCode(err))
			continue
		}
		units = append(units, u)
	}

	if len(units) != 2 || units[0].SceneID != "LC81" || units[1].SceneID != "LC83" {
		t.Fatalf("期望 LC81/LC83，实际 %+v", units)
	}
	if units[0].Dir != good {
		t.Fatalf("重复 ID 应保留第一次出现：%q", units[0].Dir)
	}
	if len(codes) != 2 || codes[0] != domain.ErrCodeDuplicateScene || codes[1] != domain.ErrCodeMetadataNotFound {
		t.Fatalf("排除原因不正确：%v", codes)
	}
	if units[0].Metadata.BandFiles["B1"] != filepath.Join(good, "X_B1.TIF") {
		t.Fatalf("band 文件路径不正确：%v", units[0].Metadata.BandFiles)
	}
}

func TestScenes_StopEarlyDoesNotResolveRest(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "LC81")
	writeFile(t, filepath.Join(first, "LC81_MTL.txt"), mtlBody)
	arc := filepath.Join(root, "LC82.tar.gz")
	writeTarGz(t, arc, map[string]string{"LC82_MTL.txt": mtlBody})

	cands, _ := Candidates([]string{first, arc}, "")
	for range New(cands).Scenes(context.Background()) {
		break
	}
	if _, err := os.Stat(filepath.Join(root, "LC82")); !os.IsNotExist(err) {
		t.Fatalf("提前停止后不应解包后续压缩包，Stat err=%v", err)
	}
}

func TestScenes_ArchiveResolvedAndReported(t *testing.T) {
	root := t.TempDir()
	arc := filepath.Join(root, "LC82.tar.gz")
	writeTarGz(t, arc, map[string]string{"LC82_MTL.txt": mtlBody})

	cands, _ := Candidates([]string{arc}, "")
	cat := New(cands)
	var extracted int64
	cat.OnResolved = func(_ Candidate, r archive.Resolved) { extracted += r.Bytes }

	var got []domain.SceneUnit
	for u, err := range cat.Scenes(context.Background()) {
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		got = append(got, u)
	}
	if len(got) != 1 || !got[0].FromArchive || got[0].Dir != filepath.Join(root, "LC82") {
		t.Fatalf("压缩包 scene 不正确：%+v", got)
	}
	if extracted != int64(len(mtlBody)) {
		t.Fatalf("期望解包 %d 字节，实际 %d", len(mtlBody), extracted)
	}
}

func TestCount_ParsesMetadataWithoutExtracting(t *testing.T) {
	pool := t.TempDir()
	writeFile(t, filepath.Join(pool, "A", "A_MTL.txt"), "GROUP = L1_METADATA_FILE\nEND\n")
	writeFile(t, filepath.Join(pool, "B", "B_B1.TIF"), "")
	writeTarGz(t, filepath.Join(pool, "C.tar.gz"), map[string]string{"C/C_MTL.txt": mtlBody})
	writeTarGz(t, filepath.Join(pool, "D.tar.gz"), map[string]string{"D_MTL.txt": "", "E_MTL.txt": ""})
	writeTarGz(t, filepath.Join(pool, "E.tar.gz"), map[string]string{"E_MTL.txt": "DATE_ACQUIRED = 2014-05-26\nEND\n"})
	writeFile(t, filepath.Join(pool, "F", "F_MTL.txt"), mtlBody)

	cands, err := Candidates(nil, pool)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	excluded := map[string]string{}
	n, err := Count(context.Background(), cands, func(ex *ExcludedError) {
		excluded[ex.Name] = domain.ErrorCode(ex)
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 2 {
		t.Fatalf("期望 2（C、F），实际 %d", n)
	}
	want := map[string]string{
		"A": domain.ErrCodeMetadataFieldMissing,
		"B": domain.ErrCodeMetadataNotFound,
		"D": domain.ErrCodeMetadataNotFound,
		"E": domain.ErrCodeMetadataFieldMissing,
	}
	if len(excluded) != len(want) {
		t.Fatalf("排除项不符合预期：%v", excluded)
	}
	for name, code := range want {
		if excluded[name] != code {
			t.Fatalf("%s 期望 %s，实际 %q", name, code, excluded[name])
		}
	}
	for _, name := range []string{"C", "D", "E"} {
		if _, err := os.Stat(filepath.Join(pool, name)); !os.IsNotExist(err) {
			t.Fatalf("count 不应解包 %s，Stat err=%v", name, err)
		}
	}
}

func TestCount_AgreesWithScenes(t *testing.T) {
	pool := t.TempDir()
	writeFile(t, filepath.Join(pool, "A", "A_MTL.txt"), mtlBody)
	writeFile(t, filepath.Join(pool, "B", "B_B1.TIF"), "")
	writeFile(t, filepath.Join(pool, "C", "C_MTL.txt"), "MAP_PROJECTION = UTM\nEND\n")
	writeTarGz(t, filepath.Join(pool, "D.tar.gz"), map[string]string{"D_MTL.txt": mtlBody})

	cands, err := Candidates(nil, pool)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	n, err := Count(context.Background(), cands, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	scenes := 0
	for _, err := range New(cands).Scenes(context.Background()) {
		if err == nil {
			scenes++
		}
	}
	if n != scenes || n != 2 {
		t.Fatalf("count=%d 与 Scenes=%d 应一致且为 2", n, scenes)
	}

	// D 已解包：再次计数走目录，结果不变。
	again, err := Count(context.Background(), cands, nil)
	if err != nil || again != n {
		t.Fatalf("解包后 count 应不变：%d err=%v", again, err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("创建压缩包失败：%v", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("写入 tar 头失败：%v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("写入 tar 内容失败：%v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("关闭 tar 失败：%v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("关闭 gzip 失败：%v", err)
	}
}
