package core

import (
	"fmt"
)

// Transition はステップから次の要素への遷移ルールを定義します。
// To / End / Fail / Stop のうちちょうど一つが指定されます。
type Transition struct {
	On   string `yaml:"on"`
	To   string `yaml:"to,omitempty"`
	End  bool   `yaml:"end,omitempty"`
	Fail bool   `yaml:"fail,omitempty"`
	Stop bool   `yaml:"stop,omitempty"`
}

// TransitionRule は特定の遷移元要素からの単一の遷移ルールです。
type TransitionRule struct {
	From       string
	Transition Transition
}

// ExecutionContextPromotion は StepExecutionContext から JobExecutionContext へのプロモーション設定です。
type ExecutionContextPromotion struct {
	Keys         []string          `yaml:"keys,omitempty"`
	JobLevelKeys map[string]string `yaml:"job-level-keys,omitempty"`
}

// FlowDefinition はジョブの実行フロー全体を定義します。
type FlowDefinition struct {
	StartElement    string
	Elements        map[string]FlowElement
	TransitionRules []TransitionRule
}

// NewFlowDefinition は開始要素を指定して空のフローを作成します。
func NewFlowDefinition(startElement string) *FlowDefinition {
	return &FlowDefinition{
		StartElement:    startElement,
		Elements:        make(map[string]FlowElement),
		TransitionRules: make([]TransitionRule, 0),
	}
}

// AddElement はフローに要素を追加します。同じ ID の要素は登録できません。
func (f *FlowDefinition) AddElement(id string, element FlowElement) error {
	if _, exists := f.Elements[id]; exists {
		return fmt.Errorf("flow element '%s' is already defined", id)
	}
	f.Elements[id] = element
	return nil
}

// AddTransitionRule は遷移ルールを追加します。
func (f *FlowDefinition) AddTransitionRule(from, on, to string, end, fail, stop bool) {
	f.TransitionRules = append(f.TransitionRules, TransitionRule{
		From: from,
		Transition: Transition{
			On:   on,
			To:   to,
			End:  end,
			Fail: fail,
			Stop: stop,
		},
	})
}

// GetTransitionRule は遷移元要素と ExitStatus に一致する遷移を探します。
// 完全一致を優先し、なければワイルドカード "*" を使います。
func (f *FlowDefinition) GetTransitionRule(from string, exitStatus ExitStatus) (Transition, bool) {
	var wildcard *Transition
	for i := range f.TransitionRules {
		rule := f.TransitionRules[i]
		if rule.From != from {
			continue
		}
		if rule.Transition.On == string(exitStatus) {
			return rule.Transition, true
		}
		if rule.Transition.On == "*" && wildcard == nil {
			t := rule.Transition
			wildcard = &t
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Transition{}, false
}
