package tasklet

import (
	"context"
	"fmt"
	"strings"

	core "sbatchjob/pkg/batch/job/core"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	logger "sbatchjob/pkg/batch/util/logger"
)

// DefaultEnvironmentName はアクティベートする環境名の既定値です。
const DefaultEnvironmentName = "mialab"

// ActivateEnvironmentTasklet は実行環境を解決し、後続のステップが使う Environment を
// StepExecution の ExecutionContext に保存します。
//
// プロパティ:
//   - kind: conda (既定) | venv | prefix
//   - name: conda 環境名 (既定 mialab)
//   - prefix: 環境のディレクトリ。conda で指定した場合は名前の解決を省きます。
//   - conda-exe: conda 実行ファイル
type ActivateEnvironmentTasklet struct {
	stateless
	spec      runtimeenv.Spec
	activator *runtimeenv.Activator
}

// NewActivateEnvironmentTasklet は新しい ActivateEnvironmentTasklet を作成します。
// base はアクティベートの起点になる環境で、通常は runtimeenv.Inherited() です。
func NewActivateEnvironmentTasklet(properties map[string]string, runner runtimeenv.CommandRunner, base runtimeenv.Environment) (*ActivateEnvironmentTasklet, error) {
	spec := runtimeenv.Spec{
		Kind:     runtimeenv.Kind(strings.ToLower(strings.TrimSpace(properties["kind"]))),
		Name:     strings.TrimSpace(properties["name"]),
		Prefix:   strings.TrimSpace(properties["prefix"]),
		CondaExe: strings.TrimSpace(properties["conda-exe"]),
	}
	if spec.Kind == "" {
		spec.Kind = runtimeenv.KindConda
	}
	switch spec.Kind {
	case runtimeenv.KindConda:
		if spec.Name == "" && spec.Prefix == "" {
			spec.Name = DefaultEnvironmentName
		}
	case runtimeenv.KindVenv, runtimeenv.KindPrefix:
		if spec.Prefix == "" {
			return nil, fmt.Errorf("activateEnvironment: kind '%s' requires 'prefix'", spec.Kind)
		}
	default:
		return nil, fmt.Errorf("activateEnvironment: unknown kind '%s'", spec.Kind)
	}
	return &ActivateEnvironmentTasklet{
		spec:      spec,
		activator: runtimeenv.NewActivator(runner, base),
	}, nil
}

// Spec は解決する環境の指定を返します。
func (t *ActivateEnvironmentTasklet) Spec() runtimeenv.Spec {
	return t.spec
}

func (t *ActivateEnvironmentTasklet) Execute(ctx context.Context, stepExecution *core.StepExecution) (core.ExitStatus, error) {
	logger.Infof("ステップ '%s': 環境 '%s' (%s) をアクティベートします。", stepExecution.StepName, t.label(), t.spec.Kind)

	env, err := t.activator.Activate(ctx, t.spec)
	if err != nil {
		logger.Errorf("ステップ '%s': 環境 '%s' のアクティベートに失敗しました: %v", stepExecution.StepName, t.label(), err)
		stepExecution.ExecutionContext.Put(core.ExitCodeKey, exitCodeOf(err))
		return core.ExitStatusFailed, err
	}

	stepExecution.ExecutionContext.Put(runtimeenv.ContextKey, env)
	stepExecution.ExecutionContext.Put(core.ExitCodeKey, 0)
	logger.Infof("ステップ '%s': 環境 '%s' をアクティベートしました。Prefix: %s", stepExecution.StepName, env.Name, env.Prefix)
	return core.ExitStatusCompleted, nil
}

func (t *ActivateEnvironmentTasklet) label() string {
	if t.spec.Name != "" {
		return t.spec.Name
	}
	return t.spec.Prefix
}

var _ core.Tasklet = (*ActivateEnvironmentTasklet)(nil)
