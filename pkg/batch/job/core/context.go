package core

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ExecutionContext はジョブやステップの状態を共有するためのキー-値ストアです。
// 永続化時は JSON にシリアライズされるため、値は JSON で表現できる型にしてください。
type ExecutionContext map[string]interface{}

// NewExecutionContext は新しい空の ExecutionContext を作成します。
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put は指定されたキーと値を設定します。
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get は指定されたキーの値を取得します。
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetString は指定されたキーの値を文字列として取得します。
func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt は指定されたキーの値を int として取得します。
// JSON から復元された float64 や文字列の数値も受け付けます。
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// GetBool は指定されたキーの値を bool として取得します。
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetNested はドット区切りのキーで入れ子の値を取得します。
// 例: "runtime.environment.prefix"
func (ec ExecutionContext) GetNested(key string) (interface{}, bool) {
	if v, ok := ec[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var current interface{} = map[string]interface{}(ec)
	for _, p := range parts {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			current = v
		case ExecutionContext:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// PutNested はドット区切りのキーで入れ子の値を設定します。途中のマップは必要に応じて作成されます。
func (ec ExecutionContext) PutNested(key string, value interface{}) {
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		ec[key] = value
		return
	}
	current := map[string]interface{}(ec)
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p]
		var m map[string]interface{}
		switch n := next.(type) {
		case map[string]interface{}:
			m = n
		case ExecutionContext:
			m = n
		}
		if !ok || m == nil {
			m = make(map[string]interface{})
			current[p] = m
		}
		current = m
	}
	current[parts[len(parts)-1]] = value
}

// Copy は ExecutionContext のシャローコピーを返します。
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// Merge は other の内容で ExecutionContext を上書きします。
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// JobParameters はジョブ実行時のパラメータを保持する構造体です。
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters は新しい JobParameters を作成します。
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Put はパラメータを設定します。
func (p *JobParameters) Put(key string, value interface{}) {
	if p.Params == nil {
		p.Params = make(map[string]interface{})
	}
	p.Params[key] = value
}

// Get はパラメータを取得します。
func (p JobParameters) Get(key string) (interface{}, bool) {
	v, ok := p.Params[key]
	return v, ok
}

// GetString はパラメータを文字列として取得します。
func (p JobParameters) GetString(key string) (string, bool) {
	v, ok := p.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt はパラメータを int として取得します。
func (p JobParameters) GetInt(key string) (int, bool) {
	v, ok := p.Params[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// GetBool はパラメータを bool として取得します。
func (p JobParameters) GetBool(key string) (bool, bool) {
	v, ok := p.Params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Copy は JobParameters のコピーを返します。
func (p JobParameters) Copy() JobParameters {
	out := NewJobParameters()
	for k, v := range p.Params {
		out.Params[k] = v
	}
	return out
}

// Equal は 2 つの JobParameters が同じ内容かどうかを判定します。
func (p JobParameters) Equal(other JobParameters) bool {
	if len(p.Params) != len(other.Params) {
		return false
	}
	for k, v := range p.Params {
		ov, ok := other.Params[k]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != fmt.Sprint(ov) {
			return false
		}
	}
	return true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		rv := reflect.ValueOf(v)
		if rv.IsValid() && rv.CanInt() {
			return int(rv.Int()), true
		}
		return 0, false
	}
}
