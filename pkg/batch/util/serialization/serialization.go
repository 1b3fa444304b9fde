package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	core "sbatchjob/pkg/batch/job/core"
	exception "sbatchjob/pkg/batch/util/exception"
)

const module = "serialization"

// MarshalExecutionContext は ExecutionContext を JSON にシリアライズします。
// nil の場合は空オブジェクトになります。
func MarshalExecutionContext(ec core.ExecutionContext) ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, exception.NewBatchError(module, "ExecutionContext のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext は JSON を ExecutionContext にデシリアライズします。
// 既存の内容は破棄されます。
func UnmarshalExecutionContext(data []byte, ec *core.ExecutionContext) error {
	*ec = core.NewExecutionContext()
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, ec); err != nil {
		return exception.NewBatchError(module, "ExecutionContext のデシリアライズに失敗しました", err, false, false)
	}
	return nil
}

// MarshalJobParameters は JobParameters を JSON にシリアライズします。
// encoding/json はマップのキーをソートして出力するため、同じ内容なら同じバイト列になります。
func MarshalJobParameters(params core.JobParameters) ([]byte, error) {
	if params.Params == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params.Params)
	if err != nil {
		return nil, exception.NewBatchError(module, "JobParameters のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalJobParameters は JSON を JobParameters にデシリアライズします。
func UnmarshalJobParameters(data []byte, params *core.JobParameters) error {
	*params = core.NewJobParameters()
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &params.Params); err != nil {
		return exception.NewBatchError(module, "JobParameters のデシリアライズに失敗しました", err, false, false)
	}
	return nil
}

// HashJobParameters は JobParameters の正規化 JSON の SHA-256 を16進文字列で返します。
// JobInstance の検索キーとして全ての DB 方言で使います。
func HashJobParameters(params core.JobParameters) (string, error) {
	data, err := MarshalJobParameters(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalFailures は []error をエラーメッセージの配列として JSON にシリアライズします。
func MarshalFailures(failures []error) ([]byte, error) {
	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		if f != nil {
			msgs = append(msgs, f.Error())
		}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, exception.NewBatchError(module, "Failures のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures は JSON のエラーメッセージ配列を []error に復元します。
func UnmarshalFailures(data []byte) ([]error, error) {
	if len(data) == 0 || string(data) == "null" {
		return make([]error, 0), nil
	}
	var msgs []string
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, exception.NewBatchError(module, "Failures のデシリアライズに失敗しました", err, false, false)
	}
	failures := make([]error, 0, len(msgs))
	for _, m := range msgs {
		failures = append(failures, errors.New(m))
	}
	return failures, nil
}
