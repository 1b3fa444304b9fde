package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel はログのレベルを表す型です。
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String はログレベルの表示名を返します。
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	// 起動したプログラムの標準出力を汚さないよう、ログは標準エラーに出す。
	std = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLogLevel はログレベルを設定します。
// 不明なレベルが渡された場合は INFO で続行します。
func SetLogLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		logLevel = LevelDebug
	case "INFO", "":
		logLevel = LevelInfo
	case "WARN", "WARNING":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	default:
		std.Printf("[WARN] 不明なログレベル '%s' が指定されました。INFO レベルで続行します。", level)
		logLevel = LevelInfo
	}
}

// GetLogLevel は現在のログレベルを返します。
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// SetOutput はログの出力先を差し替えます。テストでの捕捉用です。
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

func enabled(level LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel <= level
}

// Debugf は DEBUG レベルのログを出力します。
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		std.Printf("[DEBUG] "+format, v...)
	}
}

// Infof は INFO レベルのログを出力します。
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		std.Printf("[INFO] "+format, v...)
	}
}

// Warnf は WARN レベルのログを出力します。
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		std.Printf("[WARN] "+format, v...)
	}
}

// Errorf は ERROR レベルのログを出力します。
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		std.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf は FATAL レベルのログを出力し、プログラムを終了します。
func Fatalf(format string, v ...interface{}) {
	std.Fatalf("[FATAL] "+format, v...)
}
