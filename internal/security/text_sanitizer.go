// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力したプレーンテキスト（表示名、シナリオ名など）から
// HTMLマークアップを除去し、保存・応答に安全な文字列を返す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// angleBrackets はエンティティ復元後に残った山括弧を除去する。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// textSanitizer はTextSanitizerServiceの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// bluemondayのStrictPolicyで全タグを除去し、"&amp;" などのエンティティは元の文字に戻す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は全てのHTMLタグを除去した文字列を返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(angleBrackets.Replace(stripped))
}
