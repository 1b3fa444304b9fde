package runtimeenv_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	exception "sbatchjob/pkg/batch/util/exception"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, cmd runtimeenv.Command) (int, error) {
	args := m.Called(ctx, cmd)
	if out, ok := args.Get(2).(string); ok && cmd.Stdout != nil {
		_, _ = io.WriteString(cmd.Stdout, out)
	}
	return args.Int(0), args.Error(1)
}

// writeExecutable は dir/name に実行可能なファイルを作ります。
func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestEnvironment_LookPath(t *testing.T) {
	bin := t.TempDir()
	python := writeExecutable(t, bin, "python")
	require.NoError(t, os.WriteFile(filepath.Join(bin, "notexec"), []byte("x"), 0o644))

	env := runtimeenv.Environment{Vars: map[string]string{"PATH": bin}}

	tests := []struct {
		name     string
		file     string
		want     string
		wantCode int
	}{
		{name: "found on PATH", file: "python", want: python},
		{name: "absolute path", file: python, want: python},
		{name: "missing", file: "conda", wantCode: runtimeenv.ExitCodeNotFound},
		{name: "not executable", file: "notexec", wantCode: runtimeenv.ExitCodePermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.LookPath(tt.file)
			if tt.wantCode != 0 {
				code, ok := exception.ExitCodeOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvironment_Environ(t *testing.T) {
	env := runtimeenv.Environment{Vars: map[string]string{"PATH": "/bin", "HOME": "/home/u"}}
	assert.Equal(t, []string{"HOME=/home/u", "PATH=/bin"}, env.Environ())
}

func TestActivate_Conda(t *testing.T) {
	bin := t.TempDir()
	conda := writeExecutable(t, bin, "conda")
	base := runtimeenv.Environment{Vars: map[string]string{"PATH": "/usr/bin", "PYTHONHOME": "/opt/py"}}

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(c runtimeenv.Command) bool {
		return c.Path == conda && assert.ObjectsAreEqual([]string{"info", "--json"}, c.Args)
	})).Return(0, nil, `{"root_prefix": "/opt/conda", "envs": ["/opt/conda", "/opt/conda/envs/mialab"]}`)

	env, err := runtimeenv.NewActivator(runner, base).Activate(context.Background(), runtimeenv.Spec{
		Kind:     runtimeenv.KindConda,
		Name:     "mialab",
		CondaExe: conda,
	})
	require.NoError(t, err)
	assert.Equal(t, "mialab", env.Name)
	assert.Equal(t, "/opt/conda/envs/mialab", env.Prefix)
	assert.Equal(t, "/opt/conda/envs/mialab/bin"+string(os.PathListSeparator)+"/usr/bin", env.Vars["PATH"])
	assert.Equal(t, "mialab", env.Vars["CONDA_DEFAULT_ENV"])
	_, hasHome := env.Get("PYTHONHOME")
	assert.False(t, hasHome)
	// 元の環境は変わらない
	assert.Equal(t, "/usr/bin", base.Vars["PATH"])
	runner.AssertExpectations(t)
}

func TestActivate_CondaFailures(t *testing.T) {
	bin := t.TempDir()
	conda := writeExecutable(t, bin, "conda")

	t.Run("unknown env", func(t *testing.T) {
		runner := new(mockRunner)
		runner.On("Run", mock.Anything, mock.Anything).Return(0, nil, `{"root_prefix": "/opt/conda", "envs": ["/opt/conda"]}`)
		_, err := runtimeenv.NewActivator(runner, runtimeenv.Environment{Vars: map[string]string{}}).
			Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindConda, Name: "mialab", CondaExe: conda})
		assert.ErrorIs(t, err, runtimeenv.ErrEnvironmentNotFound)
		code, _ := exception.ExitCodeOf(err)
		assert.Equal(t, 1, code)
	})

	t.Run("conda missing", func(t *testing.T) {
		runner := new(mockRunner)
		_, err := runtimeenv.NewActivator(runner, runtimeenv.Environment{Vars: map[string]string{"PATH": t.TempDir()}}).
			Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindConda, Name: "mialab"})
		assert.ErrorIs(t, err, runtimeenv.ErrCommandNotFound)
		code, _ := exception.ExitCodeOf(err)
		assert.Equal(t, runtimeenv.ExitCodeNotFound, code)
		runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})
}

func TestActivate_CondaRootPrefix(t *testing.T) {
	bin := t.TempDir()
	conda := writeExecutable(t, bin, "conda")
	// ルートが envs の先頭に無く、ディレクトリ名がユーザー環境と同じでも区別できる
	info := `{"root_prefix": "/opt/mialab", "envs": ["/home/u/.conda/envs/tools", "/opt/mialab", "/opt/mialab/envs/mialab"]}`

	tests := []struct {
		name string
		want string
	}{
		{name: "base", want: "/opt/mialab"},
		{name: "mialab", want: "/opt/mialab/envs/mialab"},
		{name: "tools", want: "/home/u/.conda/envs/tools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockRunner)
			runner.On("Run", mock.Anything, mock.Anything).Return(0, nil, info)
			env, err := runtimeenv.NewActivator(runner, runtimeenv.Environment{Vars: map[string]string{}}).
				Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindConda, Name: tt.name, CondaExe: conda})
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Prefix)
		})
	}

	t.Run("root prefix only matches base", func(t *testing.T) {
		runner := new(mockRunner)
		runner.On("Run", mock.Anything, mock.Anything).Return(0, nil, `{"root_prefix": "/opt/miniconda3", "envs": ["/opt/miniconda3"]}`)
		_, err := runtimeenv.NewActivator(runner, runtimeenv.Environment{Vars: map[string]string{}}).
			Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindConda, Name: "miniconda3", CondaExe: conda})
		assert.ErrorIs(t, err, runtimeenv.ErrEnvironmentNotFound)
	})
}

func TestActivate_Venv(t *testing.T) {
	prefix := t.TempDir()
	env, err := runtimeenv.NewActivator(new(mockRunner), runtimeenv.Environment{Vars: map[string]string{}}).
		Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindVenv, Prefix: prefix})
	require.NoError(t, err)
	assert.Equal(t, prefix, env.Vars["VIRTUAL_ENV"])
	assert.Equal(t, filepath.Join(prefix, "bin"), env.Vars["PATH"])

	_, err = runtimeenv.NewActivator(new(mockRunner), runtimeenv.Environment{}).
		Activate(context.Background(), runtimeenv.Spec{Kind: runtimeenv.KindVenv, Prefix: filepath.Join(prefix, "missing")})
	assert.ErrorIs(t, err, runtimeenv.ErrEnvironmentNotFound)
}

func TestExec(t *testing.T) {
	bin := t.TempDir()
	python := writeExecutable(t, bin, "python")
	env := runtimeenv.Environment{Vars: map[string]string{"PATH": bin}}

	t.Run("exit code is returned", func(t *testing.T) {
		runner := new(mockRunner)
		runner.On("Run", mock.Anything, mock.MatchedBy(func(c runtimeenv.Command) bool {
			return c.Path == python && len(c.Args) == 1 && c.Args[0] == "/w/bin/main.py"
		})).Return(3, nil, nil)

		code, err := runtimeenv.Exec(context.Background(), runner, env, "python", []string{"/w/bin/main.py"}, io.Discard, io.Discard)
		assert.Equal(t, 3, code)
		c, ok := exception.ExitCodeOf(err)
		require.True(t, ok)
		assert.Equal(t, 3, c)
		runner.AssertExpectations(t)
	})

	t.Run("not found is 127", func(t *testing.T) {
		runner := new(mockRunner)
		code, err := runtimeenv.Exec(context.Background(), runner, runtimeenv.Environment{Vars: map[string]string{}}, "python", nil, nil, nil)
		assert.Equal(t, runtimeenv.ExitCodeNotFound, code)
		assert.True(t, errors.Is(err, runtimeenv.ErrCommandNotFound))
	})

	t.Run("success", func(t *testing.T) {
		runner := new(mockRunner)
		runner.On("Run", mock.Anything, mock.Anything).Return(0, nil, "Python 3.11.4\n")
		code, err := runtimeenv.Exec(context.Background(), runner, env, "python", []string{"--version"}, io.Discard, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	})
}

func TestFromContextValue(t *testing.T) {
	env := runtimeenv.Environment{Name: "mialab", Kind: runtimeenv.KindConda, Prefix: "/opt/conda/envs/mialab", Vars: map[string]string{"PATH": "/opt/conda/envs/mialab/bin"}}

	got, ok := runtimeenv.FromContextValue(env)
	require.True(t, ok)
	assert.Equal(t, env, got)

	decoded := map[string]interface{}{
		"name":   "mialab",
		"kind":   "conda",
		"prefix": "/opt/conda/envs/mialab",
		"vars":   map[string]interface{}{"PATH": "/opt/conda/envs/mialab/bin"},
	}
	got, ok = runtimeenv.FromContextValue(decoded)
	require.True(t, ok)
	assert.Equal(t, env, got)

	_, ok = runtimeenv.FromContextValue("mialab")
	assert.False(t, ok)
}
