package incrementer

import (
	"fmt"
	"strconv"
	"time"

	config "sbatchjob/pkg/batch/config"
	core "sbatchjob/pkg/batch/job/core"
	logger "sbatchjob/pkg/batch/util/logger"
)

const (
	// DefaultRunIDKey は RunIDIncrementer が使うパラメータ名の既定値です。
	DefaultRunIDKey = "run.id"
	// DefaultTimestampKey は TimestampIncrementer が使うパラメータ名の既定値です。
	DefaultTimestampKey = "timestamp"
)

// RunIDIncrementer はジョブパラメータの "run.id" を 1 から数え上げます。
// 同じ作業ディレクトリでも毎回別の JobInstance になります。
type RunIDIncrementer struct {
	key string
}

// NewRunIDIncrementer は新しい RunIDIncrementer を作成します。key が空なら "run.id" を使います。
func NewRunIDIncrementer(key string) *RunIDIncrementer {
	if key == "" {
		key = DefaultRunIDKey
	}
	return &RunIDIncrementer{key: key}
}

// GetNext は run.id を 1 増やしたパラメータを返します。元のパラメータは変更しません。
func (i *RunIDIncrementer) GetNext(params core.JobParameters) core.JobParameters {
	next := params.Copy()
	current, ok := params.GetInt(i.key)
	if !ok {
		current = 0
	}
	next.Put(i.key, current+1)
	logger.Debugf("JobParametersIncrementer: '%s' を %d にしました。", i.key, current+1)
	return next
}

func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[key=%s]", i.key)
}

// TimestampIncrementer はジョブパラメータに起動時刻 (Unix ミリ秒の文字列) を設定します。
type TimestampIncrementer struct {
	key string
	now func() time.Time
}

// NewTimestampIncrementer は新しい TimestampIncrementer を作成します。key が空なら "timestamp" を使います。
func NewTimestampIncrementer(key string) *TimestampIncrementer {
	if key == "" {
		key = DefaultTimestampKey
	}
	return &TimestampIncrementer{key: key, now: time.Now}
}

// WithClock は時刻の取得元を差し替えます。
func (i *TimestampIncrementer) WithClock(now func() time.Time) *TimestampIncrementer {
	i.now = now
	return i
}

// GetNext は現在時刻を設定したパラメータを返します。元のパラメータは変更しません。
func (i *TimestampIncrementer) GetNext(params core.JobParameters) core.JobParameters {
	next := params.Copy()
	ts := i.now().UnixMilli()
	next.Put(i.key, strconv.FormatInt(ts, 10))
	logger.Debugf("JobParametersIncrementer: '%s' を %d にしました。", i.key, ts)
	return next
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[key=%s]", i.key)
}

// RunIDIncrementerBuilder は JSL の properties ("key") から RunIDIncrementer を作ります。
func RunIDIncrementerBuilder(cfg *config.Config, properties map[string]string) (core.JobParametersIncrementer, error) {
	return NewRunIDIncrementer(properties["key"]), nil
}

// TimestampIncrementerBuilder は JSL の properties ("key") から TimestampIncrementer を作ります。
func TimestampIncrementerBuilder(cfg *config.Config, properties map[string]string) (core.JobParametersIncrementer, error) {
	return NewTimestampIncrementer(properties["key"]), nil
}

var (
	_ core.JobParametersIncrementer = (*RunIDIncrementer)(nil)
	_ core.JobParametersIncrementer = (*TimestampIncrementer)(nil)
)
