package sceneid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 两种 Landsat 命名：
// - 旧版 scene ID：LC81840332014146LGN00（传感器/卫星 + path/row + 年 + 年积日 + 地面站 + 版本）
// - Collection product ID：LC08_L1TP_184033_20140526_20170422_01_T1
var (
	legacyRE     = regexp.MustCompile(`^L([COTEM])([0-9])([0-9]{3})([0-9]{3})([0-9]{4})([0-9]{3})([A-Z]{3})([0-9]{2})$`)
	collectionRE = regexp.MustCompile(`^L([COTEM])([0-9]{2})_(L1TP|L1GT|L1GS|L2SP|L2SR)_([0-9]{3})([0-9]{3})_([0-9]{8})_([0-9]{8})_([0-9]{2})_(T1|T2|RT)$`)
)

// ID 是从目录/压缩包名识别出的 Landsat 标识。
// 它只用于展示与校验；scene 的主键始终是原始 basename（Raw）。
type ID struct {
	Raw        string
	Sensor     string // "OLI_TIRS" | "OLI" | "TIRS" | "ETM" | "TM" | "MSS"
	Satellite  int
	Path       int
	Row        int
	Acquired   time.Time
	Collection bool
}

// Mission 返回形如 "LC08" 的短标识。
func (id ID) Mission() string {
	return fmt.Sprintf("L%s%02d", sensorLetter(id.Sensor), id.Satellite)
}

// UnrecognizedError 表示名称不符合任何已知的 Landsat 命名。
type UnrecognizedError struct {
	Name string
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("无法识别的 Landsat 标识：%q", e.Name)
}

// Parse 识别 name（允许带 .tar.gz 等后缀，会先剥掉）。
func Parse(name string) (ID, error) {
	raw := strings.TrimSpace(name)
	if i := strings.IndexByte(raw, '.'); i > 0 {
		raw = raw[:i]
	}
	up := strings.ToUpper(raw)

	if m := legacyRE.FindStringSubmatch(up); m != nil {
		sat, _ := strconv.Atoi(m[2])
		path, _ := strconv.Atoi(m[3])
		row, _ := strconv.Atoi(m[4])
		year, _ := strconv.Atoi(m[5])
		doy, _ := strconv.Atoi(m[6])
		if doy < 1 || doy > 366 {
			return ID{}, &UnrecognizedError{Name: name}
		}
		return ID{
			Raw:       raw,
			Sensor:    sensorName(m[1], sat),
			Satellite: sat,
			Path:      path,
			Row:       row,
			Acquired:  time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1),
		}, nil
	}

	if m := collectionRE.FindStringSubmatch(up); m != nil {
		sat, _ := strconv.Atoi(m[2])
		path, _ := strconv.Atoi(m[4])
		row, _ := strconv.Atoi(m[5])
		acq, err := time.Parse("20060102", m[6])
		if err != nil {
			return ID{}, &UnrecognizedError{Name: name}
		}
		return ID{
			Raw:        raw,
			Sensor:     sensorName(m[1], sat),
			Satellite:  sat,
			Path:       path,
			Row:        row,
			Acquired:   acq,
			Collection: true,
		}, nil
	}

	return ID{}, &UnrecognizedError{Name: name}
}

func sensorName(letter string, satellite int) string {
	switch letter {
	case "C":
		return "OLI_TIRS"
	case "O":
		return "OLI"
	case "T":
		if satellite >= 8 {
			return "TIRS"
		}
		return "TM"
	case "E":
		return "ETM"
	case "M":
		return "MSS"
	default:
		return letter
	}
}

func sensorLetter(sensor string) string {
	switch sensor {
	case "OLI_TIRS":
		return "C"
	case "OLI":
		return "O"
	case "TM", "TIRS":
		return "T"
	case "ETM":
		return "E"
	case "MSS":
		return "M"
	default:
		return "?"
	}
}
