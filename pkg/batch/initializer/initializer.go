package initializer

import (
	"context"
	"fmt"
	"time"

	config "sbatchjob/pkg/batch/config"
	factory "sbatchjob/pkg/batch/job/factory"
	joblauncher "sbatchjob/pkg/batch/job/joblauncher"
	joboperator "sbatchjob/pkg/batch/job/joboperator"
	jsl "sbatchjob/pkg/batch/job/jsl"
	repository "sbatchjob/pkg/batch/repository"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

const module = "initializer"

// BatchInitializer はバッチアプリケーションの初期化処理を担当します。
type BatchInitializer struct {
	Config             *config.Config
	JSLDefinitionBytes [][]byte // JSL 定義 (ジョブごとに 1 ファイル)
	JobRepository      job.JobRepository
	JobRegistry        *jsl.Registry
	JobFactory         *factory.JobFactory
	JobLauncher        *joblauncher.SimpleJobLauncher
	JobOperator        joboperator.JobOperator
}

// NewBatchInitializer は新しい BatchInitializer のインスタンスを作成します。
// cfg.EmbeddedConfig は Initialize でロードされます。
func NewBatchInitializer(cfg *config.Config, jslDefinitions ...[]byte) *BatchInitializer {
	return &BatchInitializer{
		Config:             cfg,
		JSLDefinitionBytes: jslDefinitions,
	}
}

// Initialize は設定のロード、JobRepository の生成、JSL のロードを行い、JobOperator と JobFactory を返します。
// コンポーネントのビルダーは呼び出し元が返された JobFactory に登録します。
func (bi *BatchInitializer) Initialize(ctx context.Context) (joboperator.JobOperator, *factory.JobFactory, error) {
	logger.Debugf("BatchInitializer.Initialize が呼び出されました。")

	// Step 1: 設定のロード
	cfg, err := config.NewBytesConfigLoader(bi.Config.EmbeddedConfig).Load()
	if err != nil {
		return nil, nil, exception.NewBatchError(module, "設定のロードに失敗しました", err, false, false)
	}
	bi.Config = cfg

	logger.SetLogLevel(cfg.System.Logging.Level)
	logger.Debugf("ロギングレベルを '%s' に設定しました。", cfg.System.Logging.Level)
	if cfg.System.Timezone != "" {
		loc, err := time.LoadLocation(cfg.System.Timezone)
		if err != nil {
			logger.Warnf("タイムゾーン '%s' のロードに失敗しました。システムの設定を使用します: %v", cfg.System.Timezone, err)
		} else {
			time.Local = loc
		}
	}

	// Step 2: JobRepository の生成 (データベースの場合はマイグレーションも適用される)
	jobRepository, err := repository.NewJobRepository(ctx, *cfg)
	if err != nil {
		return nil, nil, exception.NewBatchError(module, "Job Repository の生成に失敗しました", err, false, false)
	}
	bi.JobRepository = jobRepository
	logger.Debugf("Job Repository を生成しました (Type: %s)。", cfg.Database.Type)

	// Step 3: JSL 定義のロード
	registry := jsl.NewRegistry()
	for _, data := range bi.JSLDefinitionBytes {
		def, err := registry.LoadFromBytes(data)
		if err != nil {
			bi.Close()
			return nil, nil, exception.NewBatchError(module, "JSL 定義のロードに失敗しました", err, false, false)
		}
		logger.Debugf("JSL 定義 '%s' をロードしました。", def.Name)
	}
	if registry.Count() == 0 {
		bi.Close()
		return nil, nil, exception.NewBatchErrorf(module, "JSL 定義が 1 つもありません")
	}
	bi.JobRegistry = registry
	logger.Debugf("JSL 定義のロードが完了しました。ロードされたジョブ数: %d", registry.Count())

	// Step 4: JobFactory, JobLauncher, JobOperator の生成
	bi.JobFactory = factory.NewJobFactory(cfg, jobRepository, registry)
	bi.JobLauncher = joblauncher.NewSimpleJobLauncher(jobRepository, bi.JobFactory)
	bi.JobOperator = joboperator.NewDefaultJobOperator(jobRepository, bi.JobLauncher)
	logger.Debugf("DefaultJobOperator を生成しました。")

	return bi.JobOperator, bi.JobFactory, nil
}

// Close は BatchInitializer が保持するリソースを解放します。
func (bi *BatchInitializer) Close() error {
	if bi.JobRepository == nil {
		return nil
	}
	err := bi.JobRepository.Close()
	bi.JobRepository = nil
	if err != nil {
		logger.Errorf("Job Repository のクローズに失敗しました: %v", err)
		return fmt.Errorf("Job Repository クローズエラー: %w", err)
	}
	logger.Debugf("Job Repository をクローズしました。")
	return nil
}
