package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp 是 scene 采集时刻的规范表示；String() 输出
// "YYYY-MM-DD HH:MM:SS.ffffffff +ZZZZ"（小数位按原样保留）。
type Timestamp struct {
	Date            time.Time
	Clock           ClockTime
	TZOffsetMinutes int
}

func (t Timestamp) String() string {
	sec := fmt.Sprintf("%02d", t.Clock.Second)
	if t.Clock.Fraction != "" {
		sec += "." + t.Clock.Fraction
	}
	return fmt.Sprintf("%s %02d:%02d:%s %s",
		t.Date.Format("2006-01-02"), t.Clock.Hour, t.Clock.Minute, sec, FormatTZOffset(t.TZOffsetMinutes))
}

// FormatTZOffset 把分钟偏移格式化为 "+hhmm" / "-hhmm"。
func FormatTZOffset(minutes int) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("%c%02d%02d", sign, minutes/60, minutes%60)
}

// ParseTZOffset 解析 "Z"、"+hhmm" 或 "±hh:mm"，返回分钟偏移；空串视为 +0000。
func ParseTZOffset(s string) (int, error) {
	if s == "" || s == "Z" {
		return 0, nil
	}
	if s[0] != '+' && s[0] != '-' {
		return 0, fmt.Errorf("时区偏移格式错误：%q", s)
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	if len(digits) != 4 {
		return 0, fmt.Errorf("时区偏移格式错误：%q", s)
	}
	h, err1 := strconv.Atoi(digits[:2])
	m, err2 := strconv.Atoi(digits[2:])
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("时区偏移格式错误：%q", s)
	}
	if h > 14 || m > 59 {
		return 0, fmt.Errorf("时区偏移越界：%q", s)
	}
	v := h*60 + m
	if s[0] == '-' {
		v = -v
	}
	return v, nil
}
