// Package markdown renders a snapshot as the markdown people copy out of the page.
package markdown

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

var strict = bluemonday.StrictPolicy()

// Convert renders items, in the order given, as:
//
//	## <title>
//	<content as plain text>
//	> 原文链接：[<link>](<link>)
//
// with a blank line after every item.
func Convert(items []rssmd.FeedItem) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(Item(it))
		b.WriteString("\n")
	}
	return b.String()
}

// Item renders a single item the way [Convert] does, minus the trailing blank line.
func Item(it rssmd.FeedItem) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(it.Title)
	b.WriteString("\n")
	b.WriteString(PlainText(it.Content))
	b.WriteString("\n> 原文链接：[")
	b.WriteString(it.Link)
	b.WriteString("](")
	b.WriteString(it.Link)
	b.WriteString(")\n")
	return b.String()
}

// PlainText drops every tag from s and decodes its entities.
func PlainText(s string) string {
	// The policy escapes what it keeps, so undo that afterwards.
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
