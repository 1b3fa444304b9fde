package jsl

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// Registry はロード済みの JSL ジョブ定義を名前で保持します。
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Parse は JSL YAML をパースして構造を検証します。Registry には登録しません。
func Parse(data []byte) (Job, error) {
	module := "jsl_loader"
	var jobDef Job
	if err := yaml.Unmarshal(data, &jobDef); err != nil {
		return Job{}, exception.NewBatchError(module, "JSL ファイルのパースに失敗しました", err, false, false)
	}

	if jobDef.ID == "" {
		return Job{}, exception.NewBatchErrorf(module, "JSL ファイルに 'id' が定義されていません")
	}
	if jobDef.Name == "" {
		return Job{}, exception.NewBatchErrorf(module, "JSL ジョブ '%s' に 'name' が定義されていません", jobDef.ID)
	}
	if jobDef.Flow.StartElement == "" {
		return Job{}, exception.NewBatchErrorf(module, "JSL ジョブ '%s' のフローに 'start-element' が定義されていません", jobDef.ID)
	}
	if len(jobDef.Flow.Elements) == 0 {
		return Job{}, exception.NewBatchErrorf(module, "JSL ジョブ '%s' のフローに 'elements' が定義されていません", jobDef.ID)
	}
	if err := jobDef.Directives.Validate(); err != nil {
		return Job{}, exception.NewBatchError(module, fmt.Sprintf("JSL ジョブ '%s' の directives が不正です", jobDef.ID), err, false, false)
	}
	return jobDef, nil
}

// LoadFromBytes は JSL YAML を 1 つロードして Registry に登録します。
// ジョブは name で引けるように登録されます。
func (r *Registry) LoadFromBytes(data []byte) (Job, error) {
	jobDef, err := Parse(data)
	if err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[jobDef.Name]; exists {
		return Job{}, exception.NewBatchErrorf("jsl_loader", "JSL ジョブ '%s' が重複しています", jobDef.Name)
	}
	r.jobs[jobDef.Name] = jobDef
	logger.Infof("JSL ジョブ '%s' をロードしました。ロード済みのジョブ数: %d", jobDef.Name, len(r.jobs))
	return jobDef, nil
}

// Get はジョブ名から JSL 定義を返します。
func (r *Registry) Get(jobName string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobName]
	return j, ok
}

// Names はロード済みのジョブ名を昇順で返します。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count はロード済みのジョブ数を返します。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
