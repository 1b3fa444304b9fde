package database

import (
	"strconv"
	"strings"
)

// Dialect はクエリのプレースホルダ形式を決める SQL 方言です。
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSnowflake Dialect = "snowflake"
)

// UsesNumberedPlaceholders は "$1" 形式のプレースホルダを使う方言かどうかを返します。
func (d Dialect) UsesNumberedPlaceholders() bool {
	return d == DialectPostgres
}

// Rebind は "?" プレースホルダを方言に合わせた形式に変換します。
// シングルクォートで囲まれた文字列リテラル内の "?" は変換しません。
func Rebind(d Dialect, query string) string {
	if !d.UsesNumberedPlaceholders() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
