package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exception "sbatchjob/pkg/batch/util/exception"
)

type exitErr struct{ code int }

func (e exitErr) Error() string { return fmt.Sprintf("exit %d", e.code) }
func (e exitErr) ExitCode() int { return e.code }

func TestBatchError_ErrorAndUnwrap(t *testing.T) {
	orig := errors.New("boom")
	err := exception.NewBatchError("runner", "ステップ失敗", orig, true, false)

	assert.Equal(t, "[runner] ステップ失敗: boom", err.Error())
	assert.ErrorIs(t, err, orig)
	assert.True(t, err.IsRetryable())
	assert.False(t, err.IsSkippable())
	assert.NotEmpty(t, err.StackTrace)
}

func TestNewBatchErrorf(t *testing.T) {
	err := exception.NewBatchErrorf("jsl", "ジョブ '%s' が見つかりません", "mialab")
	assert.Equal(t, "[jsl] ジョブ 'mialab' が見つかりません", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestExitCodeOf(t *testing.T) {
	t.Run("wrapped exit coder", func(t *testing.T) {
		err := exception.NewBatchError("tasklet", "program failed", exitErr{code: 3}, false, false)
		code, ok := exception.ExitCodeOf(fmt.Errorf("outer: %w", err))
		require.True(t, ok)
		assert.Equal(t, 3, code)
	})
	t.Run("plain error", func(t *testing.T) {
		_, ok := exception.ExitCodeOf(errors.New("plain"))
		assert.False(t, ok)
	})
}

func TestIsTemporaryAndFatal(t *testing.T) {
	assert.False(t, exception.IsTemporary(nil))
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(exception.NewBatchError("db", "ping", nil, true, false)))
	assert.False(t, exception.IsTemporary(exception.NewBatchError("db", "ping", nil, false, false)))

	assert.False(t, exception.IsFatal(nil))
	assert.True(t, exception.IsFatal(exception.NewBatchError("x", "y", nil, false, false)))
	assert.False(t, exception.IsFatal(exception.NewBatchError("x", "y", nil, false, true)))
}
