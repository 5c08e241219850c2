// Package logger はJSON構造化ログの初期化を提供する。
// パスワードやトークンなどの秘匿値はキー名で判定して出力前にマスクする。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted はマスクされた値の代わりに出力される文字列。
const Redacted = "[REDACTED]"

// sensitiveKeys はログに平文で残してはならない属性キー。
var sensitiveKeys = map[string]struct{}{
	"password":         {},
	"access_token":     {},
	"refresh_token":    {},
	"service_role_key": {},
	"api_key":          {},
	"authorization":    {},
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。未知の値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}
