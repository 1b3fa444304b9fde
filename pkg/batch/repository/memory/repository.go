// Package memory はプロセス内で実行履歴を保持する JobRepository です。
// データベースを用意しない単発実行 (sbatch から起動されるジョブなど) で使います。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	serialization "sbatchjob/pkg/batch/util/serialization"
)

// InMemoryJobRepository は JobRepository のインメモリ実装です。
// 保存時と取得時にコピーを取り、呼び出し側の変更が Update 前に反映されないようにします。
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	instances      map[string]*core.JobInstance
	executions     map[string]*core.JobExecution
	stepExecutions map[string]*core.StepExecution
	// step ID -> job execution ID
	stepOwners map[string]string
	// 作成時刻が同じ実行の並び順
	execSeq map[string]int
	nextSeq int
}

// NewInMemoryJobRepository は空の InMemoryJobRepository を作成します。
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		instances:      make(map[string]*core.JobInstance),
		executions:     make(map[string]*core.JobExecution),
		stepExecutions: make(map[string]*core.StepExecution),
		stepOwners:     make(map[string]string),
		execSeq:        make(map[string]int),
	}
}

func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	if jobInstance.ParametersHash == "" {
		hash, err := serialization.HashJobParameters(jobInstance.Parameters)
		if err != nil {
			return err
		}
		jobInstance.ParametersHash = hash
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[jobInstance.ID]; exists {
		return exception.NewBatchErrorf("job_repository", "JobInstance (ID: %s) は既に存在します", jobInstance.ID)
	}
	r.instances[jobInstance.ID] = copyInstance(jobInstance)
	return nil
}

func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	hash, err := serialization.HashJobParameters(params)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *core.JobInstance
	for _, ji := range r.instances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			if found == nil || ji.CreateTime.After(found.CreateTime) {
				found = ji
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyInstance(found), nil
}

func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ji, ok := r.instances[instanceID]
	if !ok {
		return nil, exception.NewBatchErrorf("job_repository", "JobInstance (ID: %s) が見つかりませんでした", instanceID)
	}
	return copyInstance(ji), nil
}

func (r *InMemoryJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, ji := range r.instances {
		if ji.JobName == jobName {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var names []string
	for _, ji := range r.instances {
		if _, ok := seen[ji.JobName]; !ok {
			seen[ji.JobName] = struct{}{}
			names = append(names, ji.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[jobExecution.ID]; exists {
		return exception.NewBatchErrorf("job_repository", "JobExecution (ID: %s) は既に存在します", jobExecution.ID)
	}
	r.executions[jobExecution.ID] = copyExecution(jobExecution)
	r.nextSeq++
	r.execSeq[jobExecution.ID] = r.nextSeq
	return nil
}

// UpdateJobExecution は SQL 実装と同じく Version が一致する場合のみ更新します。
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.executions[jobExecution.ID]
	if !ok || stored.Version != jobExecution.Version {
		return exception.NewBatchErrorf("job_repository", "JobExecution (ID: %s, Version: %d) の更新対象が見つかりませんでした (またはバージョン不一致)", jobExecution.ID, jobExecution.Version)
	}
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	r.executions[jobExecution.ID] = copyExecution(jobExecution)
	return nil
}

func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	je, ok := r.executions[executionID]
	if !ok {
		return nil, exception.NewBatchErrorf("job_repository", "JobExecution (ID: %s) が見つかりませんでした", executionID)
	}
	return r.withSteps(je), nil
}

func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sortedExecutions(func(je *core.JobExecution) bool { return je.JobInstanceID == jobInstanceID })
	if len(list) == 0 {
		return nil, nil
	}
	return r.withSteps(list[0]), nil
}

func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sortedExecutions(func(je *core.JobExecution) bool { return je.JobInstanceID == jobInstance.ID })
	out := make([]*core.JobExecution, 0, len(list))
	for _, je := range list {
		out = append(out, copyExecution(je))
	}
	return out, nil
}

func (r *InMemoryJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*core.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sortedExecutions(func(je *core.JobExecution) bool { return je.JobName == jobName })
	if len(list) > limit {
		list = list[:limit]
	}
	out := make([]*core.JobExecution, 0, len(list))
	for _, je := range list {
		out = append(out, copyExecution(je))
	}
	return out, nil
}

func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	if stepExecution.JobExecution == nil {
		return exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) が JobExecution に紐づいていません", stepExecution.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) は既に存在します", stepExecution.ID)
	}
	r.stepExecutions[stepExecution.ID] = copyStep(stepExecution)
	r.stepOwners[stepExecution.ID] = stepExecution.JobExecution.ID
	return nil
}

func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stepExecutions[stepExecution.ID]; !ok {
		return exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) の更新対象が見つかりませんでした", stepExecution.ID)
	}
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	r.stepExecutions[stepExecution.ID] = copyStep(stepExecution)
	return nil
}

func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	se, ok := r.stepExecutions[executionID]
	if !ok {
		return nil, exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) が見つかりませんでした", executionID)
	}
	out := copyStep(se)
	out.JobExecution = &core.JobExecution{ID: r.stepOwners[executionID]}
	return out, nil
}

func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepsOf(jobExecutionID), nil
}

// Close は何もしません。
func (r *InMemoryJobRepository) Close() error { return nil }

// sortedExecutions は条件に合う JobExecution を新しい順に返します。呼び出し側でロックを取ること。
func (r *InMemoryJobRepository) sortedExecutions(match func(*core.JobExecution) bool) []*core.JobExecution {
	var list []*core.JobExecution
	for _, je := range r.executions {
		if match(je) {
			list = append(list, je)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreateTime.Equal(list[j].CreateTime) {
			return list[i].CreateTime.After(list[j].CreateTime)
		}
		return r.execSeq[list[i].ID] > r.execSeq[list[j].ID]
	})
	return list
}

func (r *InMemoryJobRepository) stepsOf(jobExecutionID string) []*core.StepExecution {
	var steps []*core.StepExecution
	for id, owner := range r.stepOwners {
		if owner == jobExecutionID {
			steps = append(steps, copyStep(r.stepExecutions[id]))
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StartTime.Before(steps[j].StartTime) })
	return steps
}

func (r *InMemoryJobRepository) withSteps(je *core.JobExecution) *core.JobExecution {
	out := copyExecution(je)
	for _, se := range r.stepsOf(je.ID) {
		out.AddStepExecution(se)
	}
	return out
}

func copyInstance(ji *core.JobInstance) *core.JobInstance {
	c := *ji
	c.Parameters = ji.Parameters.Copy()
	return &c
}

// copyExecution は StepExecution とキャンセル関数を除いたコピーを返します。
func copyExecution(je *core.JobExecution) *core.JobExecution {
	c := *je
	c.Parameters = je.Parameters.Copy()
	c.ExecutionContext = je.ExecutionContext.Copy()
	c.Failures = append(make([]error, 0, len(je.Failures)), je.Failures...)
	c.StepExecutions = make([]*core.StepExecution, 0)
	c.CancelFunc = nil
	return &c
}

func copyStep(se *core.StepExecution) *core.StepExecution {
	c := *se
	c.JobExecution = nil
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.Failures = append(make([]error, 0, len(se.Failures)), se.Failures...)
	return &c
}

var _ job.JobRepository = (*InMemoryJobRepository)(nil)
