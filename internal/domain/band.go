package domain

import (
	"sort"
	"strings"
)

// Band 是 scene 内唯一的波段标签（例如 B4、B61、BQA）。
// 非 shared 模式下它同时就是目标图层名。
type Band string

// KnownBands 是固定的波段集合与处理顺序：多光谱/全色 -> 热红外（含 ETM+ 的 VCID 两档）-> 质量波段。
// 同一 scene 内的波段永远按此顺序串行处理。
var KnownBands = []Band{
	"B1", "B2", "B3", "B4", "B5",
	"B6", "B61", "B62",
	"B7", "B8", "B9", "B10", "B11",
	"BQA", "QA_PIXEL", "QA_RADSAT",
}

var bandIndex = func() map[Band]int {
	m := make(map[Band]int, len(KnownBands))
	for i, b := range KnownBands {
		m[b] = i
	}
	return m
}()

// ParseBand 把用户输入规范化为 Band。
// 接受 "4"、"b4"、"B4"、"61"、"bqa"、"qa_pixel" 等写法；未知标签返回 false。
func ParseBand(s string) (Band, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "B" + s
	}
	b := Band(s)
	if _, ok := bandIndex[b]; !ok {
		return "", false
	}
	return b, true
}

// Index 返回 b 在 KnownBands 中的位置；未知标签返回 -1。
func (b Band) Index() int {
	if i, ok := bandIndex[b]; ok {
		return i
	}
	return -1
}

// SortBands 按 KnownBands 顺序原地排序；未知标签排在最后并按字典序。
func SortBands(bs []Band) {
	sort.SliceStable(bs, func(i, j int) bool {
		a, b := bs[i].Index(), bs[j].Index()
		switch {
		case a >= 0 && b >= 0:
			return a < b
		case a >= 0:
			return true
		case b >= 0:
			return false
		default:
			return bs[i] < bs[j]
		}
	})
}
