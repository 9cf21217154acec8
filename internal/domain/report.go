package domain

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusPlanned   = "planned"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusExcluded  = "excluded"
)

const (
	BandStatusImported = "imported"
	BandStatusLinked   = "linked"
	BandStatusSkipped  = "skipped"
	BandStatusPlanned  = "planned"
	BandStatusFailed   = "failed"
)

const (
	ErrCodeArchive              = "archive_error"
	ErrCodeMetadataNotFound     = "metadata_not_found"
	ErrCodeMetadataFieldMissing = "metadata_field_missing"
	ErrCodeMetadataFieldInvalid = "metadata_field_invalid"
	ErrCodeDuplicateScene       = "duplicate_scene"
	ErrCodeProjectionMismatch   = "projection_mismatch"
	ErrCodeWorkspaceCreate      = "workspace_create_failed"
	ErrCodeBandAlreadyExists    = "band_already_exists"
	ErrCodeBandImport           = "band_import_failed"
	ErrCodeTimestamp            = "timestamp_failed"
	ErrCodeMetadataCopy         = "metadata_copy_failed"
	ErrCodeIOFailed             = "io_failed"
	ErrCodeConfigNotFound       = "config_not_found"
	ErrCodeConfigInvalid        = "config_invalid"
)

// Coder 由各包的结构化错误实现，用于把错误映射为稳定的 error_code。
type Coder interface {
	ErrorCode() string
}

// ErrorCode 从 err 链中提取 error_code；取不到时回退到 io_failed。
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrCodeIOFailed
}

// RunReport 是对外稳定输出（stdout JSON / history）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"` // import | dry-run
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Aborted 非空表示整次运行在导入前被致命错误中止（例如 projection_mismatch），值为 error_code。
	Aborted string `json:"aborted,omitempty"`

	Summary ReportSummary `json:"summary"`
	Items   []SceneResult `json:"items"`
}

type ReportSummary struct {
	Scenes   int `json:"scenes"`
	Failed   int `json:"failed"`
	Excluded int `json:"excluded"`

	Imported    int `json:"bands_imported"`
	Linked      int `json:"bands_linked"`
	Skipped     int `json:"bands_skipped"`
	Planned     int `json:"bands_planned"`
	BandsFailed int `json:"bands_failed"`
}

type SceneResult struct {
	SceneID   string `json:"scene_id"`
	Source    string `json:"source"`
	Workspace string `json:"workspace"`
	// WorkspaceCreated 表示该 workspace 由本次运行新建（而非复用）。
	WorkspaceCreated bool   `json:"workspace_created"`
	Timestamp        string `json:"timestamp"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	MetadataCopied bool         `json:"metadata_copied"`
	Bands          []BandResult `json:"bands"`
}

type BandResult struct {
	Band     string `json:"band"`
	Layer    string `json:"layer"`
	File     string `json:"file"`
	Decision string `json:"decision"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Stamped bool `json:"stamped"`
	// Warning 记录不影响结果的问题（例如时间戳写入失败）。
	Warning string `json:"warning,omitempty"`
}

// Failed 表示 scene 自身失败或其中任一波段失败。
func (s SceneResult) Failed() bool {
	if s.Status == StatusFailed || s.Status == StatusExcluded {
		return true
	}
	for _, b := range s.Bands {
		if b.Status == BandStatusFailed {
			return true
		}
	}
	return false
}

// OK 表示可以以 0 退出：没有中止、没有任何 scene/band 失败。
func (r RunReport) OK() bool {
	return r.Aborted == "" && r.Summary.Failed == 0 && r.Summary.Excluded == 0 && r.Summary.BandsFailed == 0
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 稳定排序：按 scene_id 字典序；scene_id=="" 的条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].SceneID
		b := r.Items[j].SceneID
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusExcluded:
			s.Excluded++
			continue
		case StatusFailed:
			s.Failed++
		}
		s.Scenes++
		for _, b := range it.Bands {
			switch b.Status {
			case BandStatusImported:
				s.Imported++
			case BandStatusLinked:
				s.Linked++
			case BandStatusSkipped:
				s.Skipped++
			case BandStatusPlanned:
				s.Planned++
			case BandStatusFailed:
				s.BandsFailed++
			}
		}
	}
	r.Summary = s
}

// MarshalJSON 保证 nil 切片输出为 []，避免下游区分 null/[]。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	a.Items = append([]SceneResult{}, r.Items...)
	for i := range a.Items {
		if a.Items[i].Bands == nil {
			a.Items[i].Bands = []BandResult{}
		}
	}
	return json.Marshal(a)
}
