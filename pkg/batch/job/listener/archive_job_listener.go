package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	config "sbatchjob/pkg/batch/config"
	core "sbatchjob/pkg/batch/job/core"
	slurm "sbatchjob/pkg/batch/slurm"
	logger "sbatchjob/pkg/batch/util/logger"
)

// ObjectStore は実行サマリの保存先です。
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// MinioStore は minio-go による S3 互換の ObjectStore です。
type MinioStore struct {
	client *minio.Client
	region string
}

// NewMinioStore は ArchiveConfig から MinioStore を作成します。
func NewMinioStore(cfg config.ArchiveConfig) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, region: cfg.Region}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region})
}

func (s *MinioStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	return err
}

// StepSummary はアーカイブされるステップ 1 つ分の結果です。
type StepSummary struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	ExitStatus string    `json:"exit_status"`
	ExitCode   int       `json:"exit_code"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time,omitempty"`
}

// ExecutionSummary はアーカイブされる JobExecution の要約です。
type ExecutionSummary struct {
	JobName     string                 `json:"job_name"`
	ExecutionID string                 `json:"execution_id"`
	InstanceID  string                 `json:"instance_id"`
	Status      string                 `json:"status"`
	ExitStatus  string                 `json:"exit_status"`
	ExitCode    int                    `json:"exit_code"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
	Failures    []string               `json:"failures,omitempty"`
	Steps       []StepSummary          `json:"steps"`
	Directives  slurm.Directives       `json:"directives"`
}

// Summarize は JobExecution を ExecutionSummary に変換します。
func Summarize(jobExecution *core.JobExecution, directives slurm.Directives) ExecutionSummary {
	summary := ExecutionSummary{
		JobName:     jobExecution.JobName,
		ExecutionID: jobExecution.ID,
		InstanceID:  jobExecution.JobInstanceID,
		Status:      string(jobExecution.Status),
		ExitStatus:  string(jobExecution.ExitStatus),
		ExitCode:    jobExecution.ExitCode,
		StartTime:   jobExecution.StartTime,
		EndTime:     jobExecution.EndTime,
		Parameters:  jobExecution.Parameters.Params,
		Directives:  directives,
		Steps:       make([]StepSummary, 0, len(jobExecution.StepExecutions)),
	}
	for _, f := range jobExecution.Failures {
		summary.Failures = append(summary.Failures, f.Error())
	}
	for _, se := range jobExecution.StepExecutions {
		summary.Steps = append(summary.Steps, StepSummary{
			Name:       se.StepName,
			Status:     string(se.Status),
			ExitStatus: string(se.ExitStatus),
			ExitCode:   se.ExitCode,
			StartTime:  se.StartTime,
			EndTime:    se.EndTime,
		})
	}
	return summary
}

// ArchiveJobListener はジョブ終了時に実行サマリを JSON でオブジェクトストレージに保存します。
// 保存に失敗してもジョブの結果は変えません。
type ArchiveJobListener struct {
	store      ObjectStore
	bucket     string
	prefix     string
	directives slurm.Directives
}

// NewArchiveJobListener は新しい ArchiveJobListener を作成します。
func NewArchiveJobListener(store ObjectStore, bucket, prefix string, directives slurm.Directives) *ArchiveJobListener {
	return &ArchiveJobListener{store: store, bucket: bucket, prefix: prefix, directives: directives}
}

// ObjectKey は実行サマリの保存先キー `<prefix>/<jobName>/<executionID>.json` を返します。
func (l *ArchiveJobListener) ObjectKey(jobExecution *core.JobExecution) string {
	return path.Join(l.prefix, jobExecution.JobName, jobExecution.ID+".json")
}

func (l *ArchiveJobListener) BeforeJob(ctx context.Context, jobExecution *core.JobExecution) {}

func (l *ArchiveJobListener) AfterJob(ctx context.Context, jobExecution *core.JobExecution) {
	// ジョブがキャンセルされていてもサマリは残す
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	data, err := json.MarshalIndent(Summarize(jobExecution, l.directives), "", "  ")
	if err != nil {
		logger.Errorf("ArchiveListener: 実行サマリの JSON 変換に失敗しました: %v", err)
		return
	}
	if err := l.store.EnsureBucket(ctx, l.bucket); err != nil {
		logger.Errorf("ArchiveListener: バケット '%s' の確認に失敗しました: %v", l.bucket, err)
		return
	}
	key := l.ObjectKey(jobExecution)
	if err := l.store.PutObject(ctx, l.bucket, key, data, "application/json"); err != nil {
		logger.Errorf("ArchiveListener: 実行サマリ '%s' の保存に失敗しました: %v", key, err)
		return
	}
	logger.Infof("ArchiveListener: 実行サマリを s3://%s/%s に保存しました。", l.bucket, key)
}

var _ core.JobExecutionListener = (*ArchiveJobListener)(nil)
