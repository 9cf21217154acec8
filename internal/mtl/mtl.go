package mtl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/lsimport/internal/domain"
)

const (
	metadataSuffix = "_mtl.txt"
	// 曾在 LE71610432005160ASN00 中出现过被错误命名为 .TIF 的 MTL。
	misnamedSuffix = "_mtl.tif"
)

// NotFoundError 表示 scene 目录顶层没有恰好一个 *_MTL.txt。
type NotFoundError struct {
	Dir   string
	Found []string
	// Misnamed 非空表示发现了扩展名为 .TIF 的 MTL（仅作提示）。
	Misnamed string
}

func (e *NotFoundError) Error() string {
	switch {
	case len(e.Found) > 1:
		return fmt.Sprintf("%s：发现多个元数据文件：%s", e.Dir, strings.Join(e.Found, ", "))
	case e.Misnamed != "":
		return fmt.Sprintf("%s：未找到 *_MTL.txt（发现扩展名为 .TIF 的 MTL：%s）", e.Dir, e.Misnamed)
	default:
		return fmt.Sprintf("%s：未找到 *_MTL.txt", e.Dir)
	}
}

func (e *NotFoundError) ErrorCode() string { return domain.ErrCodeMetadataNotFound }

// FieldError 表示必需字段缺失或无法解析。
type FieldError struct {
	File    string
	Field   string
	Value   string
	Missing bool
	Err     error
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s：缺少字段 %s", e.File, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s：字段 %s 无法解析（%q）：%v", e.File, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s：字段 %s 无法解析（%q）", e.File, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

func (e *FieldError) ErrorCode() string {
	if e.Missing {
		return domain.ErrCodeMetadataFieldMissing
	}
	return domain.ErrCodeMetadataFieldInvalid
}

// Record 是 MTL 的扁平 KEY=VALUE 映射（GROUP 结构被丢弃，同名 key 以首次出现为准）。
type Record struct {
	Raw  map[string]string
	Keys []string
}

// Get 返回第一个存在的 key 对应的值。
func (r Record) Get(keys ...string) (string, string, bool) {
	for _, k := range keys {
		if v, ok := r.Raw[k]; ok {
			return k, v, true
		}
	}
	return "", "", false
}

// Locate 在 dir 顶层查找唯一的 *_MTL.txt（大小写不敏感），返回其绝对路径。
func Locate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var found []string
	var misnamed string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		low := strings.ToLower(e.Name())
		switch {
		case strings.HasSuffix(low, metadataSuffix):
			found = append(found, e.Name())
		case strings.HasSuffix(low, misnamedSuffix):
			misnamed = e.Name()
		}
	}
	if len(found) != 1 {
		return "", &NotFoundError{Dir: dir, Found: found, Misnamed: misnamed}
	}
	abs, err := filepath.Abs(filepath.Join(dir, found[0]))
	if err != nil {
		return "", err
	}
	return abs, nil
}

// IsMetadataName 判断 basename 是否为 MTL 文件名（count 模式对压缩包成员使用）。
func IsMetadataName(name string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(name)), metadataSuffix)
}

// Parse 读取 MTL 文本。无法识别的行直接忽略；未知 key 保留在 Raw 中。
func Parse(r io.Reader) (Record, error) {
	rec := Record{Raw: map[string]string{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "END" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" || k == "GROUP" || k == "END_GROUP" {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if _, dup := rec.Raw[k]; dup {
			continue
		}
		rec.Raw[k] = v
		rec.Keys = append(rec.Keys, k)
	}
	if err := sc.Err(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Load 在 dir 中定位并解析 MTL，返回 scene 的结构化元数据。
func Load(dir, sceneID string) (domain.SceneMetadata, error) {
	path, err := Locate(dir)
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	defer f.Close()

	rec, err := Parse(f)
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	return Build(rec, path, sceneID)
}

var (
	dateKeys = []string{"DATE_ACQUIRED", "ACQUISITION_DATE"}
	timeKeys = []string{"SCENE_CENTER_TIME", "SCENE_CENTER_SCAN_TIME"}

	clockRE = regexp.MustCompile(`^([0-9]{1,2}):([0-9]{2}):([0-9]{1,2})(?:\.([0-9]+))?\s*(Z|[+-][0-9]{2}:?[0-9]{2})?$`)

	// 新版：FILE_NAME_BAND_4 / FILE_NAME_BAND_6_VCID_1；旧版：BAND4_FILE_NAME / BAND61_FILE_NAME。
	newBandRE = regexp.MustCompile(`^FILE_NAME_BAND_([0-9]{1,2})(?:_VCID_([12]))?$`)
	oldBandRE = regexp.MustCompile(`^BAND([0-9]{1,2})_FILE_NAME$`)
)

var qualityKeys = map[string]domain.Band{
	"FILE_NAME_BAND_QUALITY":                      "BQA",
	"FILE_NAME_QUALITY_L1_PIXEL":                  "QA_PIXEL",
	"FILE_NAME_QUALITY_L1_RADIOMETRIC_SATURATION": "QA_RADSAT",
}

// Build 把已解析的 Record 转为 SceneMetadata；path 为 MTL 文件路径（band 文件相对于其所在目录）。
func Build(rec Record, path, sceneID string) (domain.SceneMetadata, error) {
	meta := domain.SceneMetadata{
		SceneID:      sceneID,
		MetadataFile: path,
		BandFiles:    map[domain.Band]string{},
		Extra:        map[string]string{},
	}
	file := filepath.Base(path)

	dk, dv, ok := rec.Get(dateKeys...)
	if !ok {
		return domain.SceneMetadata{}, &FieldError{File: file, Field: dateKeys[0], Missing: true}
	}
	d, err := time.Parse("2006-01-02", dv)
	if err != nil {
		return domain.SceneMetadata{}, &FieldError{File: file, Field: dk, Value: dv, Err: err}
	}
	meta.AcquisitionDate = d

	tk, tv, ok := rec.Get(timeKeys...)
	if !ok {
		return domain.SceneMetadata{}, &FieldError{File: file, Field: timeKeys[0], Missing: true}
	}
	clock, tz, err := ParseClock(tv)
	if err != nil {
		return domain.SceneMetadata{}, &FieldError{File: file, Field: tk, Value: tv, Err: err}
	}
	meta.AcquisitionTime = clock
	meta.TZOffsetMinutes = tz

	ref, err := spatialRef(rec, file)
	if err != nil {
		return domain.SceneMetadata{}, err
	}
	meta.SpatialRef = ref

	dir := filepath.Dir(path)
	used := map[string]bool{dk: true, tk: true}
	for _, k := range rec.Keys {
		b, ok := bandForKey(k)
		if !ok {
			continue
		}
		v := rec.Raw[k]
		if v == "" {
			continue
		}
		if _, dup := meta.BandFiles[b]; dup {
			continue
		}
		meta.BandFiles[b] = filepath.Join(dir, filepath.Base(v))
		used[k] = true
	}
	for _, k := range rec.Keys {
		if !used[k] {
			meta.Extra[k] = rec.Raw[k]
		}
	}
	return meta, nil
}

// ParseClock 解析 "HH:MM:SS[.fff…][Z|±hh:mm]"；无时区视为 +0000。
func ParseClock(s string) (domain.ClockTime, int, error) {
	m := clockRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return domain.ClockTime{}, 0, fmt.Errorf("时间格式应为 HH:MM:SS[.fff][Z|±hh:mm]")
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	if h > 23 || mi > 59 || sec > 60 {
		return domain.ClockTime{}, 0, fmt.Errorf("时间越界")
	}
	tz, err := domain.ParseTZOffset(m[5])
	if err != nil {
		return domain.ClockTime{}, 0, err
	}
	return domain.ClockTime{Hour: h, Minute: mi, Second: sec, Fraction: m[4]}, tz, nil
}

func spatialRef(rec Record, file string) (string, error) {
	_, proj, ok := rec.Get("MAP_PROJECTION")
	if !ok {
		return "", &FieldError{File: file, Field: "MAP_PROJECTION", Missing: true}
	}
	_, datum, ok := rec.Get("DATUM", "REFERENCE_DATUM")
	if !ok || datum == "" {
		datum = "WGS84"
	}
	proj = strings.ToUpper(proj)
	datum = strings.ToUpper(datum)

	if proj != "UTM" {
		return fmt.Sprintf("PROJ:%s:%s", proj, datum), nil
	}
	zk, zv, ok := rec.Get("UTM_ZONE", "ZONE_NUMBER")
	if !ok {
		return "", &FieldError{File: file, Field: "UTM_ZONE", Missing: true}
	}
	zone, err := strconv.Atoi(zv)
	if err != nil || zone == 0 || zone < -60 || zone > 60 {
		return "", &FieldError{File: file, Field: zk, Value: zv, Err: err}
	}
	if datum != "WGS84" {
		return fmt.Sprintf("PROJ:UTM%d:%s", zone, datum), nil
	}
	return UTMCode(zone), nil
}

// UTMCode 返回 WGS84 UTM 分带的规范 EPSG 标识；负分带表示南半球。
func UTMCode(zone int) string {
	if zone < 0 {
		return fmt.Sprintf("EPSG:327%02d", -zone)
	}
	return fmt.Sprintf("EPSG:326%02d", zone)
}

func bandForKey(k string) (domain.Band, bool) {
	if b, ok := qualityKeys[k]; ok {
		return b, true
	}
	var num, vcid string
	if m := newBandRE.FindStringSubmatch(k); m != nil {
		num, vcid = m[1], m[2]
	} else if m := oldBandRE.FindStringSubmatch(k); m != nil {
		num = m[1]
		// 旧版 ETM+：BAND61 / BAND62
		if len(num) == 2 && num[0] == '6' {
			num, vcid = "6", num[1:]
		}
	} else {
		return "", false
	}
	label := "B" + strings.TrimLeft(num, "0") + vcid
	b, ok := domain.ParseBand(label)
	return b, ok
}
