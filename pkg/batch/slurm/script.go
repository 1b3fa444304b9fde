package slurm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ScriptCmdPrefix はバッチスクリプト中のディレクティブ行の接頭辞です。
const ScriptCmdPrefix = "#SBATCH"

// DefaultShell はスクリプトのインタプリタの既定値です。
const DefaultShell = "/bin/bash"

// Script は sbatch に渡すジョブスクリプトです。
type Script struct {
	Shell      string
	Directives Directives
	Body       []string
}

// Render はスクリプトを w に書き出します。
func (s Script) Render(w io.Writer) error {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#!%s\n", shell)
	for _, p := range s.Directives.Pairs() {
		fmt.Fprintf(bw, "%s --%s=%s\n", ScriptCmdPrefix, p.Key, quoteDirectiveValue(p.Value))
	}
	bw.WriteString("\n")
	for _, line := range s.Body {
		bw.WriteString(line)
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// quoteDirectiveValue は sbatch が #SBATCH 行の引数として元の値に戻せる形にします。
// sbatch は空白で引数を区切り、引用符の外の # 以降をコメントとして捨てるので、
// その場合は値全体をダブルクォートで囲み、" と \ をバックスラッシュでエスケープします。
func quoteDirectiveValue(v string) string {
	if !strings.ContainsAny(v, " \t\"#\\") {
		return v
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
