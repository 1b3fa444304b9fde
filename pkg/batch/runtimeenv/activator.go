package runtimeenv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logger "sbatchjob/pkg/batch/util/logger"
)

// ErrEnvironmentNotFound は指定された名前の環境が存在しないことを表します。
var ErrEnvironmentNotFound = errors.New("environment not found")

// Spec はアクティベートする環境の指定です。
type Spec struct {
	Kind     Kind
	Name     string
	Prefix   string
	CondaExe string
}

// Activator は Spec から Environment を解決します。
type Activator struct {
	runner CommandRunner
	base   Environment
}

// NewActivator は base を起点に環境を解決する Activator を作成します。
func NewActivator(runner CommandRunner, base Environment) *Activator {
	return &Activator{runner: runner, base: base}
}

// Activate は環境を解決して返します。base は変更しません。
// 失敗した場合のエラーは終了コードを持つ *CommandError です。
func (a *Activator) Activate(ctx context.Context, spec Spec) (Environment, error) {
	switch spec.Kind {
	case KindConda, "":
		return a.activateConda(ctx, spec)
	case KindVenv:
		return a.activateVenv(spec)
	case KindPrefix:
		return a.activatePrefix(spec)
	default:
		return Environment{}, &CommandError{Name: "activate", Code: 2, Err: fmt.Errorf("unknown environment kind %q", spec.Kind)}
	}
}

// condaInfo は `conda info --json` の出力のうち使う部分です。
type condaInfo struct {
	RootPrefix string   `json:"root_prefix"`
	Envs       []string `json:"envs"`
}

func (a *Activator) activateConda(ctx context.Context, spec Spec) (Environment, error) {
	prefix := spec.Prefix
	if prefix == "" {
		resolved, err := a.resolveCondaPrefix(ctx, spec)
		if err != nil {
			return Environment{}, err
		}
		prefix = resolved
	}
	name := spec.Name
	if name == "" {
		name = filepath.Base(prefix)
	}

	logger.Debugf("conda 環境 '%s' を %s で有効化します。", name, prefix)
	env := a.base.with(func(vars map[string]string) {
		prependPath(vars, filepath.Join(prefix, "bin"))
		vars["CONDA_PREFIX"] = prefix
		vars["CONDA_DEFAULT_ENV"] = name
		delete(vars, "PYTHONHOME")
	})
	env.Name = name
	env.Kind = KindConda
	env.Prefix = prefix
	return env, nil
}

// resolveCondaPrefix は `conda info --json` の結果から名前に一致する環境のプレフィックスを探します。
// base はルートプレフィックス、それ以外は envs のうちディレクトリ名が一致するものです。
func (a *Activator) resolveCondaPrefix(ctx context.Context, spec Spec) (string, error) {
	if spec.Name == "" {
		return "", &CommandError{Name: "conda activate", Code: 2, Err: errors.New("environment name or prefix is required")}
	}

	condaExe := spec.CondaExe
	if condaExe == "" {
		condaExe, _ = a.base.Get("CONDA_EXE")
	}
	if condaExe == "" {
		condaExe = "conda"
	}
	path, err := a.base.LookPath(condaExe)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	code, err := a.runner.Run(ctx, Command{
		Path:   path,
		Args:   []string{"info", "--json"},
		Env:    a.base.Environ(),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", &CommandError{Name: "conda info", Code: code, Err: errors.New(strings.TrimSpace(stderr.String()))}
	}

	var info condaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", &CommandError{Name: "conda info", Code: 1, Err: fmt.Errorf("parse conda info: %w", err)}
	}
	if spec.Name == "base" {
		if info.RootPrefix != "" {
			return info.RootPrefix, nil
		}
	} else {
		for _, p := range info.Envs {
			if p != info.RootPrefix && filepath.Base(p) == spec.Name {
				return p, nil
			}
		}
	}
	return "", &CommandError{Name: "conda activate " + spec.Name, Code: 1, Err: ErrEnvironmentNotFound}
}

func (a *Activator) activateVenv(spec Spec) (Environment, error) {
	if err := requireDir(spec.Prefix); err != nil {
		return Environment{}, err
	}
	env := a.base.with(func(vars map[string]string) {
		prependPath(vars, filepath.Join(spec.Prefix, "bin"))
		vars["VIRTUAL_ENV"] = spec.Prefix
		delete(vars, "PYTHONHOME")
	})
	env.Name = nameOr(spec)
	env.Kind = KindVenv
	env.Prefix = spec.Prefix
	return env, nil
}

func (a *Activator) activatePrefix(spec Spec) (Environment, error) {
	if err := requireDir(spec.Prefix); err != nil {
		return Environment{}, err
	}
	env := a.base.with(func(vars map[string]string) {
		prependPath(vars, filepath.Join(spec.Prefix, "bin"))
	})
	env.Name = nameOr(spec)
	env.Kind = KindPrefix
	env.Prefix = spec.Prefix
	return env, nil
}

func nameOr(spec Spec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return filepath.Base(spec.Prefix)
}

func requireDir(prefix string) error {
	if prefix == "" {
		return &CommandError{Name: "activate", Code: 2, Err: errors.New("prefix is required")}
	}
	info, err := os.Stat(prefix)
	if err != nil || !info.IsDir() {
		return &CommandError{Name: "activate " + prefix, Code: 1, Err: ErrEnvironmentNotFound}
	}
	return nil
}
