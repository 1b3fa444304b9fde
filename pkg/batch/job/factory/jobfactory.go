package factory

import (
	"fmt"

	config "sbatchjob/pkg/batch/config"
	component "sbatchjob/pkg/batch/job/component"
	core "sbatchjob/pkg/batch/job/core"
	jsl "sbatchjob/pkg/batch/job/jsl"
	runner "sbatchjob/pkg/batch/job/runner"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// StepExecutionListenerBuilder は StepExecutionListener を生成するための関数型です。
type StepExecutionListenerBuilder = jsl.StepListenerBuilder

// JobListenerBuilder は JobExecutionListener を生成するための関数型です。
// ジョブ定義 (directives など) を必要とするリスナーのために JSL 定義も渡します。
type JobListenerBuilder func(cfg *config.Config, def jsl.Job) (core.JobExecutionListener, error)

// JobParametersIncrementerBuilder は JobParametersIncrementer を生成するための関数型です。
type JobParametersIncrementerBuilder func(cfg *config.Config, properties map[string]string) (core.JobParametersIncrementer, error)

// JobBuilder は、特定の Job を生成するための関数型です。
// 登録が無いジョブには runner.FlowJob が使われます。
type JobBuilder func(
	jobRepository job.JobRepository,
	cfg *config.Config,
	def jsl.Job,
	listeners []core.JobExecutionListener,
	flow *core.FlowDefinition,
) (core.Job, error)

// JobFactory は JSL 定義と登録済みのビルダーから Job を組み立てます。
type JobFactory struct {
	config                           *config.Config
	jobRepository                    job.JobRepository
	registry                         *jsl.Registry
	componentBuilders                map[string]component.ComponentBuilder
	jobBuilders                      map[string]JobBuilder
	jobListenerBuilders              map[string]JobListenerBuilder
	stepListenerBuilders             map[string]StepExecutionListenerBuilder
	jobParametersIncrementerBuilders map[string]JobParametersIncrementerBuilder
}

// NewJobFactory は新しい JobFactory のインスタンスを作成します。
func NewJobFactory(cfg *config.Config, repo job.JobRepository, registry *jsl.Registry) *JobFactory {
	return &JobFactory{
		config:                           cfg,
		jobRepository:                    repo,
		registry:                         registry,
		componentBuilders:                make(map[string]component.ComponentBuilder),
		jobBuilders:                      make(map[string]JobBuilder),
		jobListenerBuilders:              make(map[string]JobListenerBuilder),
		stepListenerBuilders:             make(map[string]StepExecutionListenerBuilder),
		jobParametersIncrementerBuilders: make(map[string]JobParametersIncrementerBuilder),
	}
}

// RegisterComponentBuilder は、指定された名前でコンポーネントビルド関数を登録します。
func (f *JobFactory) RegisterComponentBuilder(name string, builder component.ComponentBuilder) {
	f.componentBuilders[name] = builder
	logger.Debugf("JobFactory: コンポーネントビルダー '%s' を登録しました。", name)
}

// RegisterJobBuilder は、指定されたジョブ名でジョブビルド関数を登録します。
func (f *JobFactory) RegisterJobBuilder(name string, builder JobBuilder) {
	f.jobBuilders[name] = builder
	logger.Debugf("JobFactory: ジョブビルダー '%s' を登録しました。", name)
}

// RegisterJobListenerBuilder は、指定された名前で JobExecutionListener ビルド関数を登録します。
func (f *JobFactory) RegisterJobListenerBuilder(name string, builder JobListenerBuilder) {
	f.jobListenerBuilders[name] = builder
	logger.Debugf("JobFactory: JobExecutionListener ビルダー '%s' を登録しました。", name)
}

// RegisterStepExecutionListenerBuilder は、指定された名前で StepExecutionListener ビルド関数を登録します。
func (f *JobFactory) RegisterStepExecutionListenerBuilder(name string, builder StepExecutionListenerBuilder) {
	f.stepListenerBuilders[name] = builder
	logger.Debugf("JobFactory: StepExecutionListener ビルダー '%s' を登録しました。", name)
}

// RegisterJobParametersIncrementerBuilder は、指定された名前で JobParametersIncrementer ビルド関数を登録します。
func (f *JobFactory) RegisterJobParametersIncrementerBuilder(name string, builder JobParametersIncrementerBuilder) {
	f.jobParametersIncrementerBuilders[name] = builder
	logger.Debugf("JobFactory: JobParametersIncrementer ビルダー '%s' を登録しました。", name)
}

// JobDefinition はジョブ名に対応する JSL 定義を返します。
func (f *JobFactory) JobDefinition(jobName string) (jsl.Job, bool) {
	return f.registry.Get(jobName)
}

// JobNames は作成可能なジョブ名を返します。
func (f *JobFactory) JobNames() []string {
	return f.registry.Names()
}

// CreateJob は指定されたジョブ名の core.Job オブジェクトを JSL 定義から作成します。
func (f *JobFactory) CreateJob(jobName string) (core.Job, error) {
	module := "job_factory"
	logger.Debugf("JobFactory で Job '%s' の作成を試みます。", jobName)

	jslJob, ok := f.registry.Get(jobName)
	if !ok {
		return nil, exception.NewBatchErrorf(module, "指定された Job '%s' のJSL定義が見つかりません", jobName)
	}

	coreFlow, err := jsl.ConvertJSLToCoreFlow(jslJob.Flow, f.componentBuilders, f.jobRepository, f.config, f.stepListenerBuilders)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JSL ジョブ '%s' のフロー変換に失敗しました", jobName), err, false, false)
	}

	jobListeners := make([]core.JobExecutionListener, 0, len(jslJob.Listeners))
	for _, listenerRef := range jslJob.Listeners {
		builder, found := f.jobListenerBuilders[listenerRef.Ref]
		if !found {
			return nil, exception.NewBatchErrorf(module, "JobExecutionListener '%s' のビルダーが登録されていません", listenerRef.Ref)
		}
		listenerInstance, err := builder(f.config, jslJob)
		if err != nil {
			return nil, exception.NewBatchError(module, fmt.Sprintf("JobExecutionListener '%s' のビルドに失敗しました", listenerRef.Ref), err, false, false)
		}
		if listenerInstance == nil {
			logger.Debugf("JobExecutionListener '%s' は無効なのでスキップします。", listenerRef.Ref)
			continue
		}
		jobListeners = append(jobListeners, listenerInstance)
		logger.Debugf("JobExecutionListener '%s' を生成しました。", listenerRef.Ref)
	}

	jobBuilder, found := f.jobBuilders[jobName]
	if !found {
		return runner.NewFlowJob(jslJob.ID, jslJob.Name, coreFlow, f.jobRepository, jobListeners), nil
	}
	jobInstance, err := jobBuilder(f.jobRepository, f.config, jslJob, jobListeners, coreFlow)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("ジョブ '%s' のインスタンス化に失敗しました", jobName), err, false, false)
	}

	logger.Debugf("Job '%s' を JSL 定義から構築しました。", jobName)
	return jobInstance, nil
}

// GetJobParametersIncrementer は指定されたジョブの JobParametersIncrementer を構築して返します。
// JSL に指定が無い場合は nil を返します。
func (f *JobFactory) GetJobParametersIncrementer(jobName string) core.JobParametersIncrementer {
	jslJob, ok := f.registry.Get(jobName)
	if !ok || jslJob.Incrementer.Ref == "" {
		return nil
	}

	builder, found := f.jobParametersIncrementerBuilders[jslJob.Incrementer.Ref]
	if !found {
		logger.Warnf("JobFactory: JobParametersIncrementer '%s' のビルダーが登録されていません。", jslJob.Incrementer.Ref)
		return nil
	}

	incrementer, err := builder(f.config, jslJob.Incrementer.Properties)
	if err != nil {
		logger.Errorf("JobFactory: JobParametersIncrementer '%s' のビルドに失敗しました: %v", jslJob.Incrementer.Ref, err)
		return nil
	}
	return incrementer
}
