// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は外部から受け取ったテキスト（解析サービスの応答や表示名）から
// マークアップを除去し、プレーンテキストとして保存できる形に整える。
// SSRFGuardService は解析サービスへの外向きHTTP通信を安全なクライアントに限定する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、連続する空白を1つにまとめ、前後の空白を除去する。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
