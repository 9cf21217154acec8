// Package history 把每次导入的结果持久化到本地 SQLite，供 `lsimport history` 查询。
//
// 历史只是记录，不参与导入决策：每个波段的决策永远在运行时根据引擎里的真实状态重新计算。
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/lsimport/internal/domain"
)

// Store 持有一个 SQLite 连接。
type Store struct {
	db *sql.DB
}

// Run 是 runs 表中的一行。
type Run struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Aborted    string
	Summary    domain.ReportSummary
}

// Event 是 band_events 表中的一行（被排除或 scene 级失败的条目以 Band=="" 记录）。
type Event struct {
	RunID     string
	SceneID   string
	Source    string
	Workspace string
	Band      string
	Layer     string
	Status    string
	ErrorCode string
}

// Open 打开（必要时创建）path 处的数据库并完成建表。
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单进程串行写入；一个连接即可，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化历史库 %s 失败：%w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		mode         TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		finished_at  TEXT NOT NULL,
		aborted      TEXT NOT NULL DEFAULT '',
		scenes       INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		excluded     INTEGER NOT NULL DEFAULT 0,
		imported     INTEGER NOT NULL DEFAULT 0,
		linked       INTEGER NOT NULL DEFAULT 0,
		skipped      INTEGER NOT NULL DEFAULT 0,
		planned      INTEGER NOT NULL DEFAULT 0,
		bands_failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS band_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL REFERENCES runs(run_id),
		scene_id   TEXT NOT NULL,
		source     TEXT NOT NULL,
		workspace  TEXT NOT NULL,
		band       TEXT NOT NULL,
		layer      TEXT NOT NULL,
		status     TEXT NOT NULL,
		error_code TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS band_events_run ON band_events(run_id);
	CREATE INDEX IF NOT EXISTS band_events_layer ON band_events(workspace, layer);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Record 在一个事务里写入 rr 的汇总与全部波段事件。同一 run_id 重复写入会失败。
func (s *Store) Record(ctx context.Context, rr domain.RunReport) (err error) {
	if rr.RunID == "" {
		return errors.New("run_id 为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	sm := rr.Summary
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		run_id, mode, started_at, finished_at, aborted,
		scenes, failed, excluded, imported, linked, skipped, planned, bands_failed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.RunID, rr.Mode, formatTime(rr.StartedAt), formatTime(rr.FinishedAt), rr.Aborted,
		sm.Scenes, sm.Failed, sm.Excluded, sm.Imported, sm.Linked, sm.Skipped, sm.Planned, sm.BandsFailed,
	)
	if err != nil {
		return fmt.Errorf("写入 run 失败：%w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO band_events (
		run_id, scene_id, source, workspace, band, layer, status, error_code
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range rr.Items {
		if len(it.Bands) == 0 || it.ErrorCode != "" {
			if _, err = stmt.ExecContext(ctx, rr.RunID, it.SceneID, it.Source, it.Workspace, "", "", it.Status, it.ErrorCode); err != nil {
				return fmt.Errorf("写入事件失败：%w", err)
			}
		}
		for _, b := range it.Bands {
			if _, err = stmt.ExecContext(ctx, rr.RunID, it.SceneID, it.Source, it.Workspace, b.Band, b.Layer, b.Status, b.ErrorCode); err != nil {
				return fmt.Errorf("写入事件失败：%w", err)
			}
		}
	}
	return tx.Commit()
}

// Runs 按开始时间倒序返回最近 limit 次运行（limit<=0 表示全部）。
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, started_at, finished_at, aborted,
		       scenes, failed, excluded, imported, linked, skipped, planned, bands_failed
		FROM runs
		ORDER BY started_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			sm                = &r.Summary
		)
		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Aborted,
			&sm.Scenes, &sm.Failed, &sm.Excluded, &sm.Imported, &sm.Linked, &sm.Skipped, &sm.Planned, &sm.BandsFailed); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events 返回某次运行的全部事件（按写入顺序）。
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scene_id, source, workspace, band, layer, status, error_code
		FROM band_events
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.RunID, &e.SceneID, &e.Source, &e.Workspace, &e.Band, &e.Layer, &e.Status, &e.ErrorCode); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
