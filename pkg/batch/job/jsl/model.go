package jsl

import (
	core "sbatchjob/pkg/batch/job/core"
	slurm "sbatchjob/pkg/batch/slurm"
)

// Job は JSL ファイルのトップレベルの構造です。
type Job struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Directives  slurm.Directives `yaml:"directives,omitempty"` // sbatch に渡すリソース要求
	Listeners   []ComponentRef   `yaml:"listeners,omitempty"`
	Incrementer ComponentRef     `yaml:"incrementer,omitempty"`
	Flow        Flow             `yaml:"flow"`
}

// Flow はステップの集合と開始要素です。
type Flow struct {
	StartElement string          `yaml:"start-element"`
	Elements     map[string]Step `yaml:"elements"`
}

// Step は Tasklet 1 つを実行するステップの定義です。
type Step struct {
	ID                        string                          `yaml:"id,omitempty"`
	Description               string                          `yaml:"description,omitempty"`
	Tasklet                   ComponentRef                    `yaml:"tasklet"`
	Listeners                 []ComponentRef                  `yaml:"listeners,omitempty"`
	ExecutionContextPromotion *core.ExecutionContextPromotion `yaml:"execution-context-promotion,omitempty"`
	Transitions               []core.Transition               `yaml:"transitions,omitempty"`
}

// ComponentRef は登録済みのコンポーネントを名前で参照します。
type ComponentRef struct {
	Ref        string            `yaml:"ref"`
	Properties map[string]string `yaml:"properties,omitempty"`
}
