// Package security はコンテンツ保存前の無害化と検証を提供する。
//
// 記事本文・固定ページ本文は管理画面のリッチテキストから送られるHTMLで、
// 公開ページでそのまま描画されるため、保存前に許可リスト方式で無害化する。
package security

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLとプレーンテキストの無害化インターフェース。
type Sanitizer interface {
	// SanitizeHTML は記事本文向けの許可リストでHTMLを無害化する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeHTML(rawHTML string) string
	// StripTags は全てのタグを除去したプレーンテキストを返す。HTMLとしては安全でない。
	StripTags(raw string) string
}

// ContentSanitizer はbluemondayのポリシーを保持するSanitizerの実装。
// ポリシーは生成後に変更しないため、並行利用できる。
type ContentSanitizer struct {
	content *bluemonday.Policy
	strict  *bluemonday.Policy
}

var _ Sanitizer = (*ContentSanitizer)(nil)

// codeLanguageClass はシンタックスハイライト用のclass属性。
var codeLanguageClass = regexp.MustCompile(`^language-[a-zA-Z0-9_+-]+$`)

// NewContentSanitizer はContentSanitizerを生成する。
// 本文ポリシーの内容:
//   - 見出し(h2〜h4)、段落、リスト、引用、コード、表、figure
//   - aはhttps・mailto・サイト内相対URLのみ。外部リンクにはtarget="_blank"とrel="noopener noreferrer"
//   - imgのsrcはhttpsのみ
//   - script, iframe, styleおよびon*属性は除去
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "h2", "h3", "h4",
		"ul", "ol", "li", "blockquote", "pre",
		"strong", "em", "del", "sup", "sub",
		"figure", "figcaption",
		"table", "thead", "tbody", "tr",
	)
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowElements("td", "th")
	p.AllowAttrs("class").Matching(codeLanguageClass).OnElements("code")
	p.AllowElements("code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("https", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnFullyQualifiedLinks(true)
	p.RequireNoFollowOnFullyQualifiedLinks(true)

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt", "title").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &ContentSanitizer{
		content: p,
		strict:  bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML はHTMLコンテンツを無害化する。
func (s *ContentSanitizer) SanitizeHTML(rawHTML string) string {
	return strings.TrimSpace(s.content.Sanitize(rawHTML))
}

// StripTags はタグを全て除去し、エンティティを戻したテキストを返す。
func (s *ContentSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
