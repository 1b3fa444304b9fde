package jsl

import (
	"fmt"
	"sort"

	config "sbatchjob/pkg/batch/config"
	component "sbatchjob/pkg/batch/job/component"
	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	step "sbatchjob/pkg/batch/step"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// StepListenerBuilder は StepExecutionListener を生成するための関数型です。
type StepListenerBuilder func(cfg *config.Config) (core.StepExecutionListener, error)

// ConvertJSLToCoreFlow は JSL の Flow 定義を core.FlowDefinition に変換します。
// 各ステップの Tasklet は componentBuilders から生成し、TaskletStep でラップします。
// 遷移先が存在しない場合や遷移の指定が不正な場合はエラーを返します。
func ConvertJSLToCoreFlow(
	jslFlow Flow,
	componentBuilders map[string]component.ComponentBuilder,
	jobRepository job.JobRepository,
	cfg *config.Config,
	stepListenerBuilders map[string]StepListenerBuilder,
) (*core.FlowDefinition, error) {
	module := "jsl_converter"
	flowDef := core.NewFlowDefinition(jslFlow.StartElement)

	if _, ok := jslFlow.Elements[jslFlow.StartElement]; !ok {
		return nil, exception.NewBatchErrorf(module, "フローの 'start-element' '%s' が 'elements' に見つかりません", jslFlow.StartElement)
	}

	// エラーメッセージを安定させるため ID 順に処理する
	ids := make([]string, 0, len(jslFlow.Elements))
	for id := range jslFlow.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		jslStep := jslFlow.Elements[id]
		if jslStep.ID != "" && jslStep.ID != id {
			return nil, exception.NewBatchErrorf(module, "ステップ '%s' のIDがマップのキー '%s' と一致しません", jslStep.ID, id)
		}
		if jslStep.Tasklet.Ref == "" {
			return nil, exception.NewBatchErrorf(module, "ステップ '%s' に tasklet が定義されていません", id)
		}

		builder, ok := componentBuilders[jslStep.Tasklet.Ref]
		if !ok {
			return nil, exception.NewBatchErrorf(module, "Tasklet '%s' のビルダーが見つかりません", jslStep.Tasklet.Ref)
		}
		instance, err := builder(cfg, jobRepository, jslStep.Tasklet.Properties)
		if err != nil {
			return nil, exception.NewBatchError(module, fmt.Sprintf("Tasklet '%s' のビルドに失敗しました", jslStep.Tasklet.Ref), err, false, false)
		}
		tasklet, ok := instance.(core.Tasklet)
		if !ok {
			return nil, exception.NewBatchErrorf(module, "コンポーネント '%s' は Tasklet ではありません (実際: %T)", jslStep.Tasklet.Ref, instance)
		}

		listeners := make([]core.StepExecutionListener, 0, len(jslStep.Listeners))
		for _, ref := range jslStep.Listeners {
			lb, found := stepListenerBuilders[ref.Ref]
			if !found {
				return nil, exception.NewBatchErrorf(module, "StepExecutionListener '%s' のビルダーが登録されていません", ref.Ref)
			}
			l, err := lb(cfg)
			if err != nil {
				return nil, exception.NewBatchError(module, fmt.Sprintf("StepExecutionListener '%s' のビルドに失敗しました", ref.Ref), err, false, false)
			}
			listeners = append(listeners, l)
		}

		taskletStep := step.NewTaskletStep(id, tasklet, jobRepository, listeners, jslStep.ExecutionContextPromotion)
		if err := flowDef.AddElement(id, taskletStep); err != nil {
			return nil, exception.NewBatchError(module, fmt.Sprintf("ステップ '%s' の追加に失敗しました", id), err, false, false)
		}
		logger.Debugf("Taskletステップ '%s' (Tasklet: %s) を構築しました。", id, jslStep.Tasklet.Ref)

		for _, tr := range jslStep.Transitions {
			if err := validateTransition(id, tr, jslFlow.Elements); err != nil {
				return nil, err
			}
			flowDef.AddTransitionRule(id, tr.On, tr.To, tr.End, tr.Fail, tr.Stop)
		}
	}

	return flowDef, nil
}

// validateTransition は 'on' があり、to/end/fail/stop のちょうど一つが指定されていることを確認します。
func validateTransition(from string, tr core.Transition, elements map[string]Step) error {
	module := "jsl_converter"
	if tr.On == "" {
		return exception.NewBatchErrorf(module, "ステップ '%s' の遷移に 'on' が定義されていません", from)
	}
	targets := 0
	for _, set := range []bool{tr.To != "", tr.End, tr.Fail, tr.Stop} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return exception.NewBatchErrorf(module, "ステップ '%s' の遷移 (on: %s) には to, end, fail, stop のいずれか一つだけを指定してください", from, tr.On)
	}
	if tr.To != "" {
		if _, ok := elements[tr.To]; !ok {
			return exception.NewBatchErrorf(module, "ステップ '%s' の遷移先 '%s' が 'elements' に見つかりません", from, tr.To)
		}
	}
	return nil
}
