package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	logger "sbatchjob/pkg/batch/util/logger"
)

// Submission は sbatch --parsable の結果です。
type Submission struct {
	JobID   string
	Cluster string
}

// Submitter はスクリプトを sbatch に標準入力で渡して投入します。
type Submitter struct {
	sbatchPath string
	runner     runtimeenv.CommandRunner
	env        runtimeenv.Environment
}

// NewSubmitter は新しい Submitter を作成します。sbatchPath が空なら "sbatch" を PATH から探します。
func NewSubmitter(sbatchPath string, runner runtimeenv.CommandRunner, env runtimeenv.Environment) *Submitter {
	if sbatchPath == "" {
		sbatchPath = "sbatch"
	}
	return &Submitter{sbatchPath: sbatchPath, runner: runner, env: env}
}

// Submit はスクリプトを投入してジョブIDを返します。
// sbatch が失敗した場合のエラーは sbatch の標準エラー出力と終了コードを持ちます。
func (s *Submitter) Submit(ctx context.Context, script Script) (Submission, error) {
	if err := script.Directives.Validate(); err != nil {
		return Submission{}, fmt.Errorf("invalid directives: %w", err)
	}

	var body bytes.Buffer
	if err := script.Render(&body); err != nil {
		return Submission{}, fmt.Errorf("render script: %w", err)
	}

	path, err := s.env.LookPath(s.sbatchPath)
	if err != nil {
		return Submission{}, err
	}

	var stdout, stderr bytes.Buffer
	logger.Debugf("%s --parsable でジョブを投入します。", path)
	code, err := s.runner.Run(ctx, runtimeenv.Command{
		Path:   path,
		Args:   []string{"--parsable"},
		Env:    s.env.Environ(),
		Stdin:  &body,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return Submission{}, err
	}
	if code != 0 {
		return Submission{}, &runtimeenv.CommandError{Name: "sbatch", Code: code, Err: errors.New(strings.TrimSpace(stderr.String()))}
	}
	return ParseParsable(stdout.String())
}

// ParseParsable は `<jobid>[;cluster]` 形式の出力を解釈します。
func ParseParsable(out string) (Submission, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Submission{}, errors.New("sbatch returned no job id")
	}
	id, cluster, _ := strings.Cut(line, ";")
	for _, r := range id {
		if r < '0' || r > '9' {
			return Submission{}, fmt.Errorf("unexpected sbatch output %q", line)
		}
	}
	return Submission{JobID: id, Cluster: cluster}, nil
}
