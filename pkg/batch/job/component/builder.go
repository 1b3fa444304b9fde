package component

import (
	config "sbatchjob/pkg/batch/config"
	job "sbatchjob/pkg/batch/repository/job"
)

// ComponentBuilder は JSL から参照されるコンポーネント (Tasklet) を生成するための関数型です。
// properties には JSL の `properties` がそのまま渡されます。
type ComponentBuilder func(cfg *config.Config, repo job.JobRepository, properties map[string]string) (any, error)
