package domain

import "time"

// ClockTime 是 scene 中心时刻（UTC 或带偏移）。
//
// Fraction 保留 MTL 中的原始小数位（例如 "7368720"），不做截断或补零：
// 同一份 MTL 必须得到字节级一致的时间戳字符串。
type ClockTime struct {
	Hour     int
	Minute   int
	Second   int
	Fraction string
}

// SceneMetadata 是从单个 MTL 文件解析出的结构化元数据（只包含导入与打时间戳需要的字段）。
//
// 不变量：
// - BandFiles 的 key 在 scene 内唯一；缺失的标签直接不出现（不是错误）
// - Extra 保留所有未解释的 KEY=VALUE，避免静默丢字段
type SceneMetadata struct {
	SceneID string

	AcquisitionDate time.Time // 只有年月日有意义（UTC 零点）
	AcquisitionTime ClockTime
	TZOffsetMinutes int

	SpatialRef string

	BandFiles    map[Band]string
	MetadataFile string // MTL 文件绝对路径

	Extra map[string]string
}

// Bands 返回该 scene 拥有的波段标签（按固定处理顺序）。
func (m SceneMetadata) Bands() []Band {
	out := make([]Band, 0, len(m.BandFiles))
	for b := range m.BandFiles {
		out = append(out, b)
	}
	SortBands(out)
	return out
}

// SceneUnit 是一个已解析、可处理的 scene。由 catalog 创建，创建后不可变。
type SceneUnit struct {
	SceneID string
	Dir     string // 解包后的目录（绝对路径）

	// Source 是用户给出的原始引用（目录或压缩包）；FromArchive 表示 Dir 是解包产物。
	Source      string
	FromArchive bool

	Metadata SceneMetadata
}
