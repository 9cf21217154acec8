package domain

// DecisionKind 是单个波段的导入决策类型。
type DecisionKind int

const (
	DecisionImport DecisionKind = iota + 1
	DecisionLink
	DecisionSkipExisting
	DecisionError
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionImport:
		return "import"
	case DecisionLink:
		return "link"
	case DecisionSkipExisting:
		return "skip_existing"
	case DecisionError:
		return "error"
	default:
		return "unknown"
	}
}

// ImportDecision 是每个波段在任何副作用之前一次性算出的决策（每次运行重新计算，不跨运行缓存）。
//
// - Overwrite：仅 Import/Link 有意义，表示替换已存在的同名图层
// - Restamp：仅 SkipExisting 有意义，表示跳过导入但仍要强制重写时间戳
// - Err：仅 DecisionError 非空
type ImportDecision struct {
	Kind      DecisionKind
	Overwrite bool
	Restamp   bool
	Err       error
}

// WritesLayer 表示该决策会调用栅格引擎写入图层。
func (d ImportDecision) WritesLayer() bool {
	return d.Kind == DecisionImport || d.Kind == DecisionLink
}
