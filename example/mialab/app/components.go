package app

import (
	"fmt"

	tasklet "sbatchjob/example/mialab/step/tasklet"
	config "sbatchjob/pkg/batch/config"
	core "sbatchjob/pkg/batch/job/core"
	factory "sbatchjob/pkg/batch/job/factory"
	incrementer "sbatchjob/pkg/batch/job/incrementer"
	jsl "sbatchjob/pkg/batch/job/jsl"
	joblistener "sbatchjob/pkg/batch/job/listener"
	runner "sbatchjob/pkg/batch/job/runner"
	job "sbatchjob/pkg/batch/repository/job"
	steplistener "sbatchjob/pkg/batch/step/listener"
	logger "sbatchjob/pkg/batch/util/logger"
)

// registerApplicationComponents はアプリケーション固有のコンポーネントとジョブを JobFactory に登録します。
func registerApplicationComponents(jobFactory *factory.JobFactory, deps Deps) {
	streams := tasklet.Streams{Stdout: deps.Stdout, Stderr: deps.Stderr}

	// Tasklet
	jobFactory.RegisterComponentBuilder("activateEnvironmentTasklet", func(cfg *config.Config, repo job.JobRepository, properties map[string]string) (any, error) {
		return tasklet.NewActivateEnvironmentTasklet(properties, deps.Runner, deps.Base)
	})
	jobFactory.RegisterComponentBuilder("runtimeVersionTasklet", func(cfg *config.Config, repo job.JobRepository, properties map[string]string) (any, error) {
		return tasklet.NewRuntimeVersionTasklet(properties, deps.Runner, deps.Base, streams), nil
	})
	jobFactory.RegisterComponentBuilder("invokeProgramTasklet", func(cfg *config.Config, repo job.JobRepository, properties map[string]string) (any, error) {
		return tasklet.NewInvokeProgramTasklet(properties, deps.Runner, deps.Base, streams), nil
	})

	// StepExecutionListener
	jobFactory.RegisterStepExecutionListenerBuilder("loggingStepListener", func(cfg *config.Config) (core.StepExecutionListener, error) {
		return steplistener.NewLoggingStepListener(), nil
	})

	// JobExecutionListener
	jobFactory.RegisterJobListenerBuilder("loggingJobListener", func(cfg *config.Config, def jsl.Job) (core.JobExecutionListener, error) {
		return joblistener.NewLoggingJobListener(), nil
	})
	jobFactory.RegisterJobListenerBuilder("archiveJobListener", func(cfg *config.Config, def jsl.Job) (core.JobExecutionListener, error) {
		if !cfg.Archive.Enabled {
			return nil, nil
		}
		store, err := joblistener.NewMinioStore(cfg.Archive)
		if err != nil {
			return nil, err
		}
		return joblistener.NewArchiveJobListener(store, cfg.Archive.Bucket, cfg.Archive.Prefix, def.Directives), nil
	})

	// JobParametersIncrementer
	jobFactory.RegisterJobParametersIncrementerBuilder("runIdIncrementer", incrementer.RunIDIncrementerBuilder)
	jobFactory.RegisterJobParametersIncrementerBuilder("timestampIncrementer", incrementer.TimestampIncrementerBuilder)

	logger.Debugf("全てのアプリケーションコンポーネントビルダーを登録しました。")

	// 全てのジョブは起動時の作業ディレクトリを必須とする
	for _, name := range jobFactory.JobNames() {
		jobFactory.RegisterJobBuilder(name, func(
			jobRepository job.JobRepository,
			cfg *config.Config,
			def jsl.Job,
			listeners []core.JobExecutionListener,
			flow *core.FlowDefinition,
		) (core.Job, error) {
			return runner.NewFlowJob(def.ID, def.Name, flow, jobRepository, listeners).
				WithParametersValidator(requireWorkingDir), nil
		})
	}

	logger.Debugf("全てのアプリケーションジョブビルダーを登録しました。")
}

func requireWorkingDir(params core.JobParameters) error {
	dir, ok := params.GetString(tasklet.WorkingDirKey)
	if !ok || dir == "" {
		return fmt.Errorf("job parameter '%s' is required", tasklet.WorkingDirKey)
	}
	return nil
}
