// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupDetector はタスク本文がHTMLとして解釈されるマークアップを含むかを判定する。
// 本文は受け取ったまま保存するため、書き換えではなく拒否に使う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector はタスク本文のマークアップ検出のインターフェースを定義する。
type MarkupDetector interface {
	// ContainsMarkup はHTMLパーサーがタグ・コメントとして扱う部分を含む場合にtrueを返す。
	// 「a < b」や「&lt;」のように文字として読まれるだけのテキストはfalse。
	ContainsMarkup(text string) bool
}

// markupDetector はMarkupDetectorの実装。
// bluemondayのStrictPolicyはスレッドセーフに利用できる。
type markupDetector struct {
	policy *bluemonday.Policy
}

// NewMarkupDetector はStrictPolicyを使うMarkupDetectorを生成する。
func NewMarkupDetector() *markupDetector {
	return &markupDetector{
		policy: bluemonday.StrictPolicy(),
	}
}

// ContainsMarkup はStrictPolicyの出力が文字のエスケープ以上の変更を含むかで判定する。
// StrictPolicyはすべてのタグを除去し、テキストは実体参照にエスケープして出力する。
// 両者の実体参照を戻して一致すれば、ポリシーはエスケープしかしていない。
func (d *markupDetector) ContainsMarkup(text string) bool {
	// '<'がなければタグもコメントも成立しない
	if !strings.Contains(text, "<") {
		return false
	}
	got := normalizeNewlines(html.UnescapeString(d.policy.Sanitize(text)))
	want := normalizeNewlines(html.UnescapeString(text))
	return got != want
}

// normalizeNewlines はHTMLトークナイザーと同じく CRLF と CR を LF にそろえる。
func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
