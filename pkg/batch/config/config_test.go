package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "sbatchjob/pkg/batch/config"
)

const sampleYAML = `
database:
  type: postgres
  host: db.internal
  port: 5432
  database: batch
  user: batch
  password: secret
  sslmode: disable
batch:
  job_name: mialab
system:
  logging:
    level: DEBUG
`

func TestBytesConfigLoader_Load(t *testing.T) {
	cfg, err := config.NewBytesConfigLoader([]byte(sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "mialab", cfg.Batch.JobName)
	assert.Equal(t, "DEBUG", cfg.System.Logging.Level)

	// YAML に書かれていない項目はデフォルトのまま
	assert.Equal(t, "sbatch", cfg.Batch.SbatchPath)
	assert.Equal(t, "UTC", cfg.System.Timezone)
	assert.Equal(t, 3, cfg.Database.ConnectRetry.MaxAttempts)
}

func TestBytesConfigLoader_EmptyUsesDefaults(t *testing.T) {
	cfg, err := config.NewBytesConfigLoader(nil).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Database.IsInMemory())
	assert.Equal(t, "INFO", cfg.System.Logging.Level)
}

func TestBytesConfigLoader_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "mysql")
	t.Setenv("DATABASE_PORT", "3306")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "not-a-number")
	t.Setenv("BATCH_SBATCH_PATH", "/opt/slurm/bin/sbatch")
	t.Setenv("ARCHIVE_USE_SSL", "true")
	t.Setenv("SYSTEM_LOGGING_LEVEL", "WARN")

	cfg, err := config.NewBytesConfigLoader([]byte(sampleYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 0, cfg.Database.ConnectionPool.MaxOpenConns, "invalid numbers are ignored")
	assert.Equal(t, "/opt/slurm/bin/sbatch", cfg.Batch.SbatchPath)
	assert.True(t, cfg.Archive.UseSSL)
	assert.Equal(t, "WARN", cfg.System.Logging.Level)
}

func TestBytesConfigLoader_InvalidYAML(t *testing.T) {
	_, err := config.NewBytesConfigLoader([]byte("database: [")).Load()
	assert.Error(t, err)
}

func TestArchiveConfig_Validate(t *testing.T) {
	valid := config.ArchiveConfig{
		Enabled:   true,
		Endpoint:  "minio.internal:9000",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "job-archive",
	}

	tests := []struct {
		name    string
		mutate  func(c *config.ArchiveConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *config.ArchiveConfig) {}},
		{name: "disabled skips checks", mutate: func(c *config.ArchiveConfig) { *c = config.ArchiveConfig{} }},
		{name: "scheme in endpoint", mutate: func(c *config.ArchiveConfig) { c.Endpoint = "http://minio:9000" }, wantErr: true},
		{name: "missing bucket", mutate: func(c *config.ArchiveConfig) { c.Bucket = "" }, wantErr: true},
		{name: "missing secret", mutate: func(c *config.ArchiveConfig) { c.SecretKey = " " }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
