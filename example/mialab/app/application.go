// Package app は mialab ジョブのランチャーのコマンドラインを実装します。
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	godotenv "github.com/joho/godotenv"

	config "sbatchjob/pkg/batch/config"
	initializer "sbatchjob/pkg/batch/initializer"
	factory "sbatchjob/pkg/batch/job/factory"
	joboperator "sbatchjob/pkg/batch/job/joboperator"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// 終了コード
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Deps はアプリケーションがプロセスの外とやり取りするための依存です。
type Deps struct {
	Runner     runtimeenv.CommandRunner
	Base       runtimeenv.Environment
	Stdout     io.Writer
	Stderr     io.Writer
	Getwd      func() (string, error)
	Executable func() (string, error)
}

// DefaultDeps は実際のプロセス環境を使う Deps を返します。
func DefaultDeps() Deps {
	return Deps{
		Runner:     runtimeenv.NewExecRunner(),
		Base:       runtimeenv.Inherited(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Getwd:      os.Getwd,
		Executable: os.Executable,
	}
}

// options はコマンドラインのグローバルオプションです。
type options struct {
	configPath string
	jobPath    string
}

// application は初期化済みのコンポーネントを束ねます。
type application struct {
	deps        Deps
	opts        options
	cfg         *config.Config
	jobFactory  *factory.JobFactory
	jobOperator joboperator.JobOperator
}

// RunApplication はアプリケーションのメインロジックを実行し、プロセスの終了コードを返します。
func RunApplication(ctx context.Context, args []string, envFilePath string, embeddedConfig, embeddedJSL []byte) int {
	return Run(ctx, args, envFilePath, embeddedConfig, embeddedJSL, DefaultDeps())
}

// Run は deps を使って RunApplication と同じ処理を行います。
func Run(ctx context.Context, args []string, envFilePath string, embeddedConfig, embeddedJSL []byte, deps Deps) int {
	fs := flag.NewFlagSet("mialab", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "application.yaml の代わりに使う設定ファイル")
	fs.StringVar(&opts.jobPath, "job", "", "組み込みのジョブ定義の代わりに使う JSL ファイル")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	command := "run"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}
	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(deps.Stderr, "unknown command %q\n", command)
		usage(fs)
		return exitUsage
	}

	loadEnvFile(envFilePath)

	a, closeApp, err := newApplication(ctx, opts, embeddedConfig, embeddedJSL, deps)
	if err != nil {
		return exitError
	}
	defer closeApp()
	return handler.run(ctx, a, rest)
}

// newApplication はバッチフレームワークを初期化し、コンポーネントを登録した application を返します。
// エラーはここでログに出力します。返された関数でリソースをクローズします。
func newApplication(ctx context.Context, opts options, embeddedConfig, embeddedJSL []byte, deps Deps) (*application, func(), error) {
	configBytes, jslBytes, err := readDefinitions(opts, embeddedConfig, embeddedJSL)
	if err != nil {
		logger.Errorf("%v", err)
		return nil, nil, err
	}

	batchInitializer := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: configBytes}, jslBytes)
	jobOperator, jobFactory, err := batchInitializer.Initialize(ctx)
	if err != nil {
		logBatchError("バッチアプリケーションの初期化に失敗しました", err)
		return nil, nil, err
	}
	closeApp := func() {
		if closeErr := batchInitializer.Close(); closeErr != nil {
			logger.Errorf("バッチアプリケーションのリソースクローズ中にエラーが発生しました: %v", closeErr)
		}
	}
	registerApplicationComponents(jobFactory, deps)

	return &application{
		deps:        deps,
		opts:        opts,
		cfg:         batchInitializer.Config,
		jobFactory:  jobFactory,
		jobOperator: jobOperator,
	}, closeApp, nil
}

func loadEnvFile(envFilePath string) {
	if envFilePath == "" {
		return
	}
	if err := godotenv.Load(envFilePath); err != nil {
		logger.Debugf(".env ファイル '%s' のロードをスキップしました: %v", envFilePath, err)
		return
	}
	logger.Debugf(".env ファイル '%s' をロードしました。", envFilePath)
}

// readDefinitions は -config / -job で指定されたファイルがあれば組み込みの定義の代わりに読み込みます。
func readDefinitions(opts options, embeddedConfig, embeddedJSL []byte) ([]byte, []byte, error) {
	configBytes, jslBytes := embeddedConfig, embeddedJSL
	if opts.configPath != "" {
		b, err := os.ReadFile(opts.configPath)
		if err != nil {
			return nil, nil, exception.NewBatchError("app", fmt.Sprintf("設定ファイル '%s' を読めません", opts.configPath), err, false, false)
		}
		configBytes = b
	}
	if opts.jobPath != "" {
		b, err := os.ReadFile(opts.jobPath)
		if err != nil {
			return nil, nil, exception.NewBatchError("app", fmt.Sprintf("ジョブ定義 '%s' を読めません", opts.jobPath), err, false, false)
		}
		jslBytes = b
	}
	return configBytes, jslBytes, nil
}

// jobName は実行するジョブ名を決めます。設定に無ければ唯一の定義を使います。
func (a *application) jobName() (string, error) {
	if a.cfg.Batch.JobName != "" {
		return a.cfg.Batch.JobName, nil
	}
	names := a.jobFactory.JobNames()
	if len(names) == 1 {
		return names[0], nil
	}
	return "", fmt.Errorf("batch.job_name is not set and %d jobs are defined", len(names))
}

// absFlags は生成するスクリプトに引き継ぐグローバルオプションを絶対パスで返します。
func (a *application) absFlags() ([]string, error) {
	var out []string
	for _, f := range []struct{ name, path string }{{"-config", a.opts.configPath}, {"-job", a.opts.jobPath}} {
		if f.path == "" {
			continue
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return nil, err
		}
		out = append(out, f.name, abs)
	}
	return out, nil
}

// logBatchError はエラーをログに出力します。BatchError ならその詳細も出力します。
func logBatchError(msg string, err error) {
	logger.Errorf("%s: %v", msg, err)
	var be *exception.BatchError
	if errors.As(err, &be) && be.StackTrace != "" {
		logger.Debugf("BatchError StackTrace:\n%s", be.StackTrace)
	}
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "usage: %s [flags] [command] [args]\n\ncommands:\n", fs.Name())
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-28s %s\n", name+" "+commands[name].args, commands[name].help)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}
