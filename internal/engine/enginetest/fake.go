// Package enginetest 提供内存中的 engine.Engine，供流程级测试使用。
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/John-Robertt/lsimport/internal/domain"
	"github.com/John-Robertt/lsimport/internal/engine"
)

// Layer 是一个已导入的图层。
type Layer struct {
	File      string
	Linked    bool
	Timestamp string
	Imports   int
}

// Engine 在内存中模拟 mapset/图层/时间戳；AuxDir 指向 Root 下的真实目录。
type Engine struct {
	mu sync.Mutex

	Root       string
	Location   string
	SpatialRef string

	current string
	mapsets map[string]map[string]*Layer

	// 注入故障：key 为 mapset 名或图层名。
	FailCreate map[string]error
	FailImport map[string]error
	FailStamp  map[string]error

	Calls []string
}

var _ engine.Engine = (*Engine)(nil)

// New 创建只含 PERMANENT 的 location。
func New(root, spatialRef string) *Engine {
	return &Engine{
		Root:       root,
		Location:   "loc",
		SpatialRef: spatialRef,
		current:    "PERMANENT",
		mapsets:    map[string]map[string]*Layer{"PERMANENT": {}},
		FailCreate: map[string]error{},
		FailImport: map[string]error{},
		FailStamp:  map[string]error{},
	}
}

func (e *Engine) record(format string, args ...any) {
	e.Calls = append(e.Calls, fmt.Sprintf(format, args...))
}

// Current 返回当前 mapset。
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Mapsets 返回全部 mapset 名（有序）。
func (e *Engine) Mapsets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.mapsets))
	for n := range e.mapsets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Layer 返回 mapset 中的图层（不存在时为 nil）。
func (e *Engine) Layer(mapset, name string) *Layer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l := e.mapsets[mapset][name]; l != nil {
		cp := *l
		return &cp
	}
	return nil
}

// Put 预置一个图层（模拟上一次运行留下的结果）。
func (e *Engine) Put(mapset, name string, l Layer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mapsets[mapset] == nil {
		e.mapsets[mapset] = map[string]*Layer{}
	}
	e.mapsets[mapset][name] = &l
}

func (e *Engine) Env(context.Context) (engine.Env, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Env{GISDBase: e.Root, Location: e.Location, Mapset: e.current}, nil
}

func (e *Engine) Projection(context.Context) (string, error) {
	return e.SpatialRef, nil
}

func (e *Engine) MapsetExists(_ context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.mapsets[name]
	return ok, nil
}

func (e *Engine) CreateMapset(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("create %s", name)
	if err := e.FailCreate[name]; err != nil {
		return err
	}
	if _, ok := e.mapsets[name]; !ok {
		e.mapsets[name] = map[string]*Layer{}
	}
	e.current = name
	return nil
}

func (e *Engine) SwitchMapset(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("switch %s", name)
	if _, ok := e.mapsets[name]; !ok {
		return fmt.Errorf("mapset <%s> 不存在", name)
	}
	e.current = name
	return nil
}

func (e *Engine) AuxDir(_ context.Context, mapset string) (string, error) {
	return filepath.Join(e.Root, e.Location, mapset, "cell_misc"), nil
}

func (e *Engine) LayerExists(_ context.Context, mapset, layer string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.mapsets[mapset][layer]
	return ok, nil
}

func (e *Engine) write(req engine.ImportRequest, linked bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	verb := "import"
	if linked {
		verb = "link"
	}
	e.record("%s %s@%s", verb, req.Layer, e.current)
	if err := e.FailImport[req.Layer]; err != nil {
		return err
	}
	layers := e.mapsets[e.current]
	if old, ok := layers[req.Layer]; ok {
		if !req.Overwrite {
			return errors.New("图层已存在：" + req.Layer)
		}
		old.File, old.Linked, old.Timestamp = req.File, linked, ""
		old.Imports++
		return nil
	}
	layers[req.Layer] = &Layer{File: req.File, Linked: linked, Imports: 1}
	return nil
}

func (e *Engine) Import(_ context.Context, req engine.ImportRequest) error {
	return e.write(req, false)
}

func (e *Engine) Link(_ context.Context, req engine.ImportRequest) error {
	return e.write(req, true)
}

func (e *Engine) Timestamp(_ context.Context, mapset, layer string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.mapsets[mapset][layer]
	if l == nil || l.Timestamp == "" {
		return "", false, nil
	}
	return l.Timestamp, true, nil
}

func (e *Engine) SetTimestamp(_ context.Context, layer string, ts domain.Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("stamp %s@%s", layer, e.current)
	if err := e.FailStamp[layer]; err != nil {
		return err
	}
	l := e.mapsets[e.current][layer]
	if l == nil {
		return fmt.Errorf("图层 <%s> 不存在", layer)
	}
	l.Timestamp = ts.String()
	return nil
}
