// Package markdown renders user-authored markdown. Content checks use
// RenderText: a message whose rendered form is empty is rejected even
// when the raw input is not.
package markdown

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Strikethrough),
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Render converts markdown to HTML.
func Render(source string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// RenderText converts markdown to HTML and strips the tags, leaving
// the visible text.
func RenderText(source string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(Render(source), ""))
}
