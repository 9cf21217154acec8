package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine"
)

// CreateError 表示 workspace 无法创建或切换（error_code=workspace_create_failed）。
type CreateError struct {
	Name string
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("无法创建/切换 workspace %s：%v", e.Name, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

func (e *CreateError) ErrorCode() string { return domain.ErrCodeWorkspaceCreate }

// ErrStaleHandle 表示使用了已不是当前活动 workspace 的 Handle。
var ErrStaleHandle = errors.New("workspace handle 已失效（活动 workspace 已切换）")

// Handle 代表一次激活；只有最近一次 Activate 返回的 Handle 有效。
type Handle struct {
	Name    string
	Shared  bool
	Created bool
	gen     uint64
}

// LayerName 返回 band 在该 workspace 中的图层名：shared 模式加 "<scene_id>_" 前缀。
func (h Handle) LayerName(sceneID string, b domain.Band) string {
	if h.Shared {
		return sceneID + "_" + string(b)
	}
	return string(b)
}

// Manager 持有会话唯一的“活动 workspace”槽位。非并发安全：导入流程是单线程的。
type Manager struct {
	host     engine.Host
	shared   bool
	original string
	active   string
	gen      uint64
}

// NewManager 读取会话当前的 mapset，Restore 时回到它。
func NewManager(ctx context.Context, host engine.Host, mode Mode) (*Manager, error) {
	env, err := host.Env(ctx)
	if err != nil {
		return nil, err
	}
	return &Manager{host: host, shared: mode == Shared, original: env.Mapset, active: env.Mapset}, nil
}

func (m *Manager) Original() string { return m.original }

// Activate 切换到 name：已存在则复用，否则创建（继承 location 投影）。
func (m *Manager) Activate(ctx context.Context, name string) (Handle, error) {
	if !ValidName(name) {
		return Handle{}, &CreateError{Name: name, Err: &NameError{Name: name}}
	}
	exists, err := m.host.MapsetExists(ctx, name)
	if err != nil {
		return Handle{}, &CreateError{Name: name, Err: err}
	}

	created := false
	switch {
	case exists && m.active == name:
	case exists:
		if err := m.host.SwitchMapset(ctx, name); err != nil {
			return Handle{}, &CreateError{Name: name, Err: err}
		}
	default:
		if err := m.host.CreateMapset(ctx, name); err != nil {
			return Handle{}, &CreateError{Name: name, Err: err}
		}
		created = true
	}

	m.active = name
	m.gen++
	return Handle{Name: name, Shared: m.shared, Created: created, gen: m.gen}, nil
}

// Check 确认 h 仍是当前活动 workspace 的 Handle。
func (m *Manager) Check(h Handle) error {
	if h.gen == 0 || h.gen != m.gen || h.Name != m.active {
		return ErrStaleHandle
	}
	return nil
}

// Restore 回到会话开始时的 mapset，并使所有 Handle 失效。
func (m *Manager) Restore(ctx context.Context) error {
	m.gen++
	if m.active == m.original {
		return nil
	}
	if err := m.host.SwitchMapset(ctx, m.original); err != nil {
		return err
	}
	m.active = m.original
	return nil
}
