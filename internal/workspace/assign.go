package workspace

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/John-Robertt/lsimport/internal/domain"
)

// Mode 决定 scene 与 workspace 的对应关系。
type Mode int

const (
	// PerScene：每个 scene 一个 workspace，名称即 scene ID。
	PerScene Mode = iota
	// Shared：所有 scene 导入同一个 workspace，图层名加 "<scene_id>_" 前缀。
	Shared
)

func (m Mode) String() string {
	if m == Shared {
		return "shared"
	}
	return "per-scene"
}

// GRASS 的合法 mapset 名：不以 '.' 开头，不含空白与 @ / \ 等特殊字符。
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// NameError 表示名称不能用作 workspace。
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("非法的 workspace 名称：%q", e.Name)
}

func (e *NameError) ErrorCode() string { return domain.ErrCodeWorkspaceCreate }

// ValidName 判断 name 是否可作为 workspace 名。
func ValidName(name string) bool {
	return len(name) <= 255 && nameRE.MatchString(name)
}

// Group 是同一 workspace 下的 scene 集合（SceneIDs 保持输入顺序）。
type Group struct {
	Workspace string
	SceneIDs  []string
}

// Assignment 是整次运行的 scene -> workspace 映射，在任何导入之前一次性算好。
type Assignment struct {
	Mode   Mode
	Groups []Group

	byScene map[string]string
	invalid map[string]error
}

// For 返回 scene 对应的 workspace；名称非法时返回 *NameError（只影响该 scene）。
func (a Assignment) For(sceneID string) (string, error) {
	if err := a.invalid[sceneID]; err != nil {
		return "", err
	}
	ws, ok := a.byScene[sceneID]
	if !ok {
		return "", fmt.Errorf("scene %s 未分配 workspace", sceneID)
	}
	return ws, nil
}

// Assign 计算 workspace 分配。
//
// - PerScene：workspace = scene ID
// - Shared：全部 scene 指向 shared；shared 非法时整体报错
// - Groups 按 workspace 名字典序稳定排序
func Assign(units []domain.SceneUnit, mode Mode, shared string) (Assignment, error) {
	a := Assignment{
		Mode:    mode,
		byScene: make(map[string]string, len(units)),
		invalid: map[string]error{},
	}
	if mode == Shared && !ValidName(shared) {
		return Assignment{}, &NameError{Name: shared}
	}

	index := make(map[string]int, len(units))
	for _, u := range units {
		ws := shared
		if mode == PerScene {
			ws = u.SceneID
			if !ValidName(ws) {
				a.invalid[u.SceneID] = &NameError{Name: ws}
				continue
			}
		}
		a.byScene[u.SceneID] = ws

		if idx, ok := index[ws]; ok {
			a.Groups[idx].SceneIDs = append(a.Groups[idx].SceneIDs, u.SceneID)
			continue
		}
		index[ws] = len(a.Groups)
		a.Groups = append(a.Groups, Group{Workspace: ws, SceneIDs: []string{u.SceneID}})
	}

	sort.Slice(a.Groups, func(i, j int) bool { return a.Groups[i].Workspace < a.Groups[j].Workspace })
	return a, nil
}
