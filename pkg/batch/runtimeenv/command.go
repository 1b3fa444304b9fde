package runtimeenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"syscall"
)

// シェルと同じ終了コードの慣習に合わせます。
const (
	ExitCodeNotFound   = 127
	ExitCodePermission = 126
	exitCodeSignalBase = 128
)

var (
	// ErrCommandNotFound はコマンドが環境の PATH で見つからなかったことを表します。
	ErrCommandNotFound = errors.New("command not found")
	// ErrPermissionDenied はコマンドが実行可能でないことを表します。
	ErrPermissionDenied = errors.New("permission denied")
)

// CommandError は外部コマンドの失敗とその終了コードを表します。
type CommandError struct {
	Name string
	Code int
	Err  error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (exit code %d)", e.Name, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: exited with code %d", e.Name, e.Code)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode はプロセスとして観測される終了コードを返します。
func (e *CommandError) ExitCode() int {
	return e.Code
}

// Command は子プロセス 1 つ分の起動内容です。Env が nil の場合は空の環境で起動します。
type Command struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner は Command を同期実行して終了コードを返します。
// 0 以外の終了コードはエラーではありません。エラーはプロセスを起動できなかった場合と
// Context のキャンセルで停止した場合だけ返します。
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// ExecRunner は os/exec による CommandRunner の実装です。
type ExecRunner struct{}

// NewExecRunner は ExecRunner を返します。
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run はプロセスを起動して終了まで待ちます。
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (int, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = cmd.Env
	if c.Env == nil {
		c.Env = []string{}
	}
	c.Dir = cmd.Dir
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = exitCodeSignalBase + int(ws.Signal())
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return code, &CommandError{Name: cmd.Path, Code: code, Err: ctxErr}
		}
		return code, nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ExitCodeNotFound, &CommandError{Name: cmd.Path, Code: ExitCodeNotFound, Err: fmt.Errorf("%w: %v", ErrCommandNotFound, err)}
	case errors.Is(err, fs.ErrPermission):
		return ExitCodePermission, &CommandError{Name: cmd.Path, Code: ExitCodePermission, Err: fmt.Errorf("%w: %v", ErrPermissionDenied, err)}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 1, &CommandError{Name: cmd.Path, Code: 1, Err: ctxErr}
	}
	return 1, &CommandError{Name: cmd.Path, Code: 1, Err: err}
}

var _ CommandRunner = (*ExecRunner)(nil)

// Exec は name を env の PATH で解決して実行し、その終了コードを返します。
// 解決できなければ 127 と ErrCommandNotFound を返します。
// 0 以外で終了した場合は終了コードを持つ *CommandError も返します。
func Exec(ctx context.Context, runner CommandRunner, env Environment, name string, args []string, stdout, stderr io.Writer) (int, error) {
	path, err := env.LookPath(name)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return ce.Code, &CommandError{Name: name, Code: ce.Code, Err: ce.Err}
		}
		return ExitCodeNotFound, &CommandError{Name: name, Code: ExitCodeNotFound, Err: ErrCommandNotFound}
	}

	code, err := runner.Run(ctx, Command{
		Path:   path,
		Args:   args,
		Env:    env.Environ(),
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, &CommandError{Name: name, Code: code}
	}
	return 0, nil
}
