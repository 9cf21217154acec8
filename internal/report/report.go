// Package report 渲染非导入模式的输出：波段清单、可导入 scene 计数、时间戳列表，以及导入结果的人类可读摘要。
package report

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/infra/fsx"
	"github.com/John-Robertt/lsimport/internal/sceneid"
	"github.com/John-Robertt/lsimport/internal/timestamp"
)

// WriteTable 以统一样式渲染一张表（无边框、左对齐、不自动折行）。
func WriteTable(w io.Writer, header []string, rows [][]string) {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetColumnSeparator(" ")
	t.SetCenterSeparator(" ")
	t.SetHeaderLine(true)
	t.AppendBulk(rows)
	t.Render()
}

// sensorOf 返回形如 "LC08 OLI_TIRS" 的传感器描述；无法识别的名称返回 "-"。
func sensorOf(sceneID string) string {
	id, err := sceneid.Parse(sceneID)
	if err != nil {
		return "-"
	}
	return id.Mission() + " " + id.Sensor
}

// WriteInventory 按 scene 顺序列出每个波段：scene、传感器、采集时刻（规范时间戳）、波段、文件名。
func WriteInventory(w io.Writer, units []domain.SceneUnit) {
	rows := make([][]string, 0, len(units)*8)
	for _, u := range units {
		sensor := sensorOf(u.SceneID)
		acquired := timestamp.Derive(u.Metadata).String()
		for _, b := range u.Metadata.Bands() {
			rows = append(rows, []string{u.SceneID, sensor, acquired, string(b), filepath.Base(u.Metadata.BandFiles[b])})
		}
	}
	WriteTable(w, []string{"SCENE", "SENSOR", "ACQUIRED", "BAND", "FILE"}, rows)
}

// WriteCount 输出可导入 scene 数（单独一行，便于脚本读取）。
func WriteCount(w io.Writer, n int) error {
	_, err := fmt.Fprintln(w, n)
	return err
}

// TimestampLines 为每个 scene 生成 "<scene_id><suffix>|<timestamp>"；override 非 nil 时所有 scene 共用它。
func TimestampLines(units []domain.SceneUnit, suffix string, override *domain.Timestamp) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		ts := timestamp.Derive(u.Metadata)
		if override != nil {
			ts = *override
		}
		out = append(out, timestamp.FormatListing(u.SceneID, suffix, ts))
	}
	return out
}

func WriteTimestamps(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteTimestampFile 原子地写出 t.register 可用的列表文件（已存在则替换）。
func WriteTimestampFile(path string, lines []string) error {
	var buf bytes.Buffer
	if err := WriteTimestamps(&buf, lines); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes())
}

// WriteRunSummary 渲染导入结果：每个 scene 一行，末尾附汇总。
func WriteRunSummary(w io.Writer, rr domain.RunReport) {
	rows := make([][]string, 0, len(rr.Items))
	for _, it := range rr.Items {
		var imported, linked, skipped, failed int
		for _, b := range it.Bands {
			switch b.Status {
			case domain.BandStatusImported:
				imported++
			case domain.BandStatusLinked:
				linked++
			case domain.BandStatusSkipped:
				skipped++
			case domain.BandStatusFailed:
				failed++
			}
		}
		id := it.SceneID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{
			id, it.Workspace, it.Status,
			strconv.Itoa(imported + linked), strconv.Itoa(skipped), strconv.Itoa(failed),
			firstError(it),
		})
	}
	WriteTable(w, []string{"SCENE", "MAPSET", "STATUS", "WRITTEN", "SKIPPED", "FAILED", "ERROR"}, rows)

	s := rr.Summary
	fmt.Fprintf(w, "\nscene=%d failed=%d excluded=%d  imported=%d linked=%d skipped=%d planned=%d bands_failed=%d\n",
		s.Scenes, s.Failed, s.Excluded, s.Imported, s.Linked, s.Skipped, s.Planned, s.BandsFailed)
	if rr.Aborted != "" {
		fmt.Fprintf(w, "运行已中止：%s\n", rr.Aborted)
	}
}

// firstError 返回 scene 级错误码，否则返回首个失败波段的 "<band>:<code>"。
func firstError(it domain.SceneResult) string {
	if it.ErrorCode != "" {
		return it.ErrorCode
	}
	var parts []string
	for _, b := range it.Bands {
		if b.Status == domain.BandStatusFailed {
			parts = append(parts, b.Band+":"+b.ErrorCode)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if len(parts) > 2 {
		return strings.Join(parts[:2], ",") + fmt.Sprintf(",+%d", len(parts)-2)
	}
	return strings.Join(parts, ",")
}
