package timestamp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/lsimport/internal/domain"
)

var months = [...]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// Derive 从 scene 元数据得到规范时间戳。纯函数：同一份元数据总是得到相同结果。
func Derive(meta domain.SceneMetadata) domain.Timestamp {
	return domain.Timestamp{
		Date:            meta.AcquisitionDate,
		Clock:           meta.AcquisitionTime,
		TZOffsetMinutes: meta.TZOffsetMinutes,
	}
}

var manualRE = regexp.MustCompile(`^([0-9]{4}-[0-9]{2}-[0-9]{2})[ T]([0-9]{2}):([0-9]{2}):([0-9]{2})(?:\.([0-9]+))?(?:\s*(Z|[+-][0-9]{2}:?[0-9]{2}))?$`)

// ParseError 表示手工时间戳（--timestamp）格式错误。
type ParseError struct {
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("时间戳格式错误：%q（期望 YYYY-MM-DD HH:MM:SS[.fff] [+ZZZZ]）", e.Value)
}

// Parse 解析手工指定的时间戳，例如 "2014-05-26 09:10:26.7368720 +0000"。
// 省略时区时按 +0000 处理。
func Parse(s string) (domain.Timestamp, error) {
	s = strings.TrimSpace(s)
	m := manualRE.FindStringSubmatch(s)
	if m == nil {
		return domain.Timestamp{}, &ParseError{Value: s}
	}
	d, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return domain.Timestamp{}, &ParseError{Value: s}
	}
	h, _ := strconv.Atoi(m[2])
	mi, _ := strconv.Atoi(m[3])
	sec, _ := strconv.Atoi(m[4])
	if h > 23 || mi > 59 || sec > 60 {
		return domain.Timestamp{}, &ParseError{Value: s}
	}
	tz, err := domain.ParseTZOffset(m[6])
	if err != nil {
		return domain.Timestamp{}, &ParseError{Value: s}
	}
	return domain.Timestamp{
		Date:            d,
		Clock:           domain.ClockTime{Hour: h, Minute: mi, Second: sec, Fraction: m[5]},
		TZOffsetMinutes: tz,
	}, nil
}

// FormatListing 生成 t.register 兼容的一行：<scene_id><suffix>|<timestamp>。
func FormatListing(sceneID, suffix string, ts domain.Timestamp) string {
	return sceneID + suffix + "|" + ts.String()
}

// GRASSDate 生成 r.timestamp 接受的日期串，例如 "26 may 2014 09:10:26.7368720"。
//
// 时区不写入：r.timestamp 的 date= 只接受这种绝对时间格式。
func GRASSDate(ts domain.Timestamp) string {
	sec := fmt.Sprintf("%02d", ts.Clock.Second)
	if ts.Clock.Fraction != "" {
		sec += "." + ts.Clock.Fraction
	}
	return fmt.Sprintf("%02d %s %04d %02d:%02d:%s",
		ts.Date.Day(), months[ts.Date.Month()-1], ts.Date.Year(), ts.Clock.Hour, ts.Clock.Minute, sec)
}
