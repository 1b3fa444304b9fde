package runtimeenv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContextKey は解決済みの Environment を JobExecutionContext に保存するキーです。
const ContextKey = "runtime.environment"

// Kind は実行環境の種類です。
type Kind string

const (
	KindConda     Kind = "conda"
	KindVenv      Kind = "venv"
	KindPrefix    Kind = "prefix"
	KindInherited Kind = "inherited"
)

// Environment は一度だけ解決され、後続のステップへ値として渡される実行環境です。
// ランチャー自身のプロセス環境は変更しません。
type Environment struct {
	Name   string            `json:"name"`
	Kind   Kind              `json:"kind"`
	Prefix string            `json:"prefix,omitempty"`
	Vars   map[string]string `json:"vars"`
}

// Inherited はランチャーのプロセス環境をそのまま使う Environment を返します。
// アクティベーションに失敗したままフローを続ける場合に使われます。
func Inherited() Environment {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	return Environment{Name: "inherited", Kind: KindInherited, Vars: vars}
}

// Get は環境変数の値を返します。
func (e Environment) Get(key string) (string, bool) {
	v, ok := e.Vars[key]
	return v, ok
}

// Environ は子プロセスに渡す "KEY=VALUE" 形式の一覧をキー順で返します。
func (e Environment) Environ() []string {
	keys := make([]string, 0, len(e.Vars))
	for k := range e.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+e.Vars[k])
	}
	return env
}

// with は Vars を複製して変更を加えた Environment を返します。
func (e Environment) with(mutate func(vars map[string]string)) Environment {
	vars := make(map[string]string, len(e.Vars)+3)
	for k, v := range e.Vars {
		vars[k] = v
	}
	mutate(vars)
	e.Vars = vars
	return e
}

// prependPath は dir を PATH の先頭に加えます。
func prependPath(vars map[string]string, dir string) {
	if cur, ok := vars["PATH"]; ok && cur != "" {
		vars["PATH"] = dir + string(os.PathListSeparator) + cur
		return
	}
	vars["PATH"] = dir
}

// LookPath は file をこの環境の PATH で解決します。
// file にパス区切りが含まれる場合は PATH を使わずにそのまま確認します。
func (e Environment) LookPath(file string) (string, error) {
	if file == "" {
		return "", &CommandError{Name: file, Code: ExitCodeNotFound, Err: ErrCommandNotFound}
	}
	if strings.ContainsRune(file, filepath.Separator) || strings.Contains(file, "/") {
		if err := checkExecutable(file); err != nil {
			return "", err
		}
		return file, nil
	}

	var permErr error
	for _, dir := range filepath.SplitList(e.Vars["PATH"]) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		err := checkExecutable(candidate)
		if err == nil {
			return candidate, nil
		}
		if ce := (*CommandError)(nil); errors.As(err, &ce) && ce.Code == ExitCodePermission && permErr == nil {
			permErr = err
		}
	}
	if permErr != nil {
		return "", permErr
	}
	return "", &CommandError{Name: file, Code: ExitCodeNotFound, Err: ErrCommandNotFound}
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &CommandError{Name: path, Code: ExitCodeNotFound, Err: ErrCommandNotFound}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return &CommandError{Name: path, Code: ExitCodePermission, Err: ErrPermissionDenied}
	}
	return nil
}

// FromContextValue は ExecutionContext に保存された値から Environment を復元します。
// リスタートでデータベースから読み戻した場合は JSON をデコードした map になっています。
func FromContextValue(v interface{}) (Environment, bool) {
	switch env := v.(type) {
	case Environment:
		return env, true
	case *Environment:
		if env == nil {
			return Environment{}, false
		}
		return *env, true
	case map[string]interface{}:
		data, err := json.Marshal(env)
		if err != nil {
			return Environment{}, false
		}
		var restored Environment
		if err := json.Unmarshal(data, &restored); err != nil {
			return Environment{}, false
		}
		if restored.Vars == nil {
			restored.Vars = map[string]string{}
		}
		return restored, true
	default:
		return Environment{}, false
	}
}
