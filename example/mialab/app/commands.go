package app

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	tasklet "sbatchjob/example/mialab/step/tasklet"
	core "sbatchjob/pkg/batch/job/core"
	slurm "sbatchjob/pkg/batch/slurm"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

type command struct {
	args string
	help string
	run  func(ctx context.Context, a *application, args []string) int
}

var commandOrder = []string{"run", "script", "submit", "status", "history", "restart", "stop", "abandon"}

var commands = map[string]command{
	"run":     {help: "ジョブをこのプロセスで実行し、プログラムの終了コードで終了する", run: runJob},
	"script":  {help: "sbatch に渡すジョブスクリプトを標準出力に書く", run: printScript},
	"submit":  {help: "ジョブスクリプトを sbatch で投入する", run: submitJob},
	"status":  {args: "<execution-id>", help: "JobExecution の状態を表示する", run: showStatus},
	"history": {args: "[-n N]", help: "最近の JobExecution を表示する", run: showHistory},
	"restart": {args: "<execution-id>", help: "FAILED / STOPPED の JobExecution を再開する", run: restartJob},
	"stop":    {args: "<execution-id>", help: "JobExecution を停止する", run: stopJob},
	"abandon": {args: "<execution-id>", help: "JobExecution を放棄する", run: abandonJob},
}

// runJob は起動時の作業ディレクトリを working.dir としてジョブを実行します。
func runJob(ctx context.Context, a *application, args []string) int {
	if len(args) != 0 {
		fmt.Fprintf(a.deps.Stderr, "run: unexpected arguments %q\n", args)
		return exitUsage
	}
	jobName, err := a.jobName()
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	workingDir, err := a.deps.Getwd()
	if err != nil {
		logger.Errorf("作業ディレクトリを取得できません: %v", err)
		return exitError
	}

	params := core.NewJobParameters()
	params.Put(tasklet.WorkingDirKey, workingDir)
	logger.Infof("Job '%s' を実行します。working.dir: %s", jobName, workingDir)

	jobExecution, err := a.jobOperator.Start(ctx, jobName, params)
	return exitCodeFor(jobName, jobExecution, err)
}

// exitCodeFor は JobExecution の終了コードをプロセスの終了コードにします。
// JobExecution が作られなかった場合は 1 です。
func exitCodeFor(jobName string, jobExecution *core.JobExecution, err error) int {
	if jobExecution == nil {
		if err != nil {
			logBatchError(fmt.Sprintf("Job '%s' の起動処理中にエラーが発生しました", jobName), err)
		}
		return exitError
	}
	if err != nil {
		logBatchError(fmt.Sprintf("Job '%s' (Execution ID: %s) の実行中にエラーが発生しました", jobName, jobExecution.ID), err)
	}
	if jobExecution.Status != core.BatchStatusCompleted {
		logger.Errorf("Job '%s' (Execution ID: %s) は %s で終了しました。ExitCode: %d", jobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitCode)
		for i, f := range jobExecution.Failures {
			logger.Errorf("  - 失敗 %d: %v", i+1, f)
		}
	}
	return jobExecution.ExitCode
}

// buildScript はジョブ定義のディレクティブと、このランチャーを run で呼び出す本体からスクリプトを作ります。
func (a *application) buildScript() (slurm.Script, error) {
	jobName, err := a.jobName()
	if err != nil {
		return slurm.Script{}, err
	}
	def, ok := a.jobFactory.JobDefinition(jobName)
	if !ok {
		return slurm.Script{}, fmt.Errorf("job '%s' is not defined", jobName)
	}

	launcher := a.cfg.Batch.LauncherPath
	if launcher == "" {
		if launcher, err = a.deps.Executable(); err != nil {
			return slurm.Script{}, fmt.Errorf("resolve launcher path: %w", err)
		}
	}
	flags, err := a.absFlags()
	if err != nil {
		return slurm.Script{}, err
	}

	words := []string{"exec", shellQuote(launcher)}
	for _, f := range flags {
		words = append(words, shellQuote(f))
	}
	words = append(words, "run")
	return slurm.Script{
		Shell:      a.cfg.Batch.Shell,
		Directives: def.Directives,
		Body:       []string{strings.Join(words, " ")},
	}, nil
}

func printScript(_ context.Context, a *application, args []string) int {
	if len(args) != 0 {
		fmt.Fprintf(a.deps.Stderr, "script: unexpected arguments %q\n", args)
		return exitUsage
	}
	script, err := a.buildScript()
	if err != nil {
		logger.Errorf("ジョブスクリプトを作成できません: %v", err)
		return exitError
	}
	if err := script.Directives.Validate(); err != nil {
		logger.Errorf("ディレクティブが不正です: %v", err)
		return exitError
	}
	var buf bytes.Buffer
	if err := script.Render(&buf); err != nil {
		logger.Errorf("ジョブスクリプトの書き出しに失敗しました: %v", err)
		return exitError
	}
	_, _ = a.deps.Stdout.Write(buf.Bytes())
	return exitOK
}

func submitJob(ctx context.Context, a *application, args []string) int {
	if len(args) != 0 {
		fmt.Fprintf(a.deps.Stderr, "submit: unexpected arguments %q\n", args)
		return exitUsage
	}
	script, err := a.buildScript()
	if err != nil {
		logger.Errorf("ジョブスクリプトを作成できません: %v", err)
		return exitError
	}
	submission, err := slurm.NewSubmitter(a.cfg.Batch.SbatchPath, a.deps.Runner, a.deps.Base).Submit(ctx, script)
	if err != nil {
		logger.Errorf("ジョブの投入に失敗しました: %v", err)
		if code, ok := exception.ExitCodeOf(err); ok && code != 0 {
			return code
		}
		return exitError
	}
	if submission.Cluster != "" {
		fmt.Fprintf(a.deps.Stdout, "Submitted batch job %s on cluster %s\n", submission.JobID, submission.Cluster)
	} else {
		fmt.Fprintf(a.deps.Stdout, "Submitted batch job %s\n", submission.JobID)
	}
	return exitOK
}

// executionID は引数がちょうど 1 つの JobExecution ID であることを確認します。
func executionID(a *application, name string, args []string) (string, bool) {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintf(a.deps.Stderr, "usage: %s <execution-id>\n", name)
		return "", false
	}
	return args[0], true
}

func showStatus(ctx context.Context, a *application, args []string) int {
	id, ok := executionID(a, "status", args)
	if !ok {
		return exitUsage
	}
	jobExecution, err := a.jobOperator.GetJobExecution(ctx, id)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}

	tw := tabwriter.NewWriter(a.deps.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Execution ID\t%s\n", jobExecution.ID)
	fmt.Fprintf(tw, "Job\t%s\n", jobExecution.JobName)
	fmt.Fprintf(tw, "Instance ID\t%s\n", jobExecution.JobInstanceID)
	fmt.Fprintf(tw, "Status\t%s\n", jobExecution.Status)
	fmt.Fprintf(tw, "Exit status\t%s\n", jobExecution.ExitStatus)
	fmt.Fprintf(tw, "Exit code\t%d\n", jobExecution.ExitCode)
	fmt.Fprintf(tw, "Started\t%s\n", formatTime(jobExecution.StartTime))
	fmt.Fprintf(tw, "Ended\t%s\n", formatTime(jobExecution.EndTime))
	if dir, ok := jobExecution.Parameters.GetString(tasklet.WorkingDirKey); ok {
		fmt.Fprintf(tw, "Working dir\t%s\n", dir)
	}
	for _, se := range jobExecution.StepExecutions {
		fmt.Fprintf(tw, "Step %s\t%s / %s (exit code %d)\n", se.StepName, se.Status, se.ExitStatus, se.ExitCode)
	}
	for i, f := range jobExecution.Failures {
		fmt.Fprintf(tw, "Failure %d\t%v\n", i+1, f)
	}
	if err := tw.Flush(); err != nil {
		logger.Errorf("出力に失敗しました: %v", err)
		return exitError
	}
	return exitOK
}

func showHistory(ctx context.Context, a *application, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(a.deps.Stderr)
	limit := fs.Int("n", 20, "表示する件数")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 || *limit <= 0 {
		return exitUsage
	}
	jobName, err := a.jobName()
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	executions, err := a.jobOperator.GetRecentJobExecutions(ctx, jobName, *limit)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}

	tw := tabwriter.NewWriter(a.deps.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTION ID\tSTATUS\tEXIT CODE\tSTARTED\tENDED")
	for _, je := range executions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", je.ID, je.Status, je.ExitCode, formatTime(je.StartTime), formatTime(je.EndTime))
	}
	if err := tw.Flush(); err != nil {
		logger.Errorf("出力に失敗しました: %v", err)
		return exitError
	}
	return exitOK
}

func restartJob(ctx context.Context, a *application, args []string) int {
	id, ok := executionID(a, "restart", args)
	if !ok {
		return exitUsage
	}
	jobExecution, err := a.jobOperator.Restart(ctx, id)
	name := id
	if jobExecution != nil {
		name = jobExecution.JobName
	}
	return exitCodeFor(name, jobExecution, err)
}

func stopJob(ctx context.Context, a *application, args []string) int {
	id, ok := executionID(a, "stop", args)
	if !ok {
		return exitUsage
	}
	if err := a.jobOperator.Stop(ctx, id); err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	return exitOK
}

func abandonJob(ctx context.Context, a *application, args []string) int {
	id, ok := executionID(a, "abandon", args)
	if !ok {
		return exitUsage
	}
	if err := a.jobOperator.Abandon(ctx, id); err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	return exitOK
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// shellQuote は s を sh の単語として安全な形にします。
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
