package ingest

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

const (
	untitled = "无标题"
	noLink   = "#"
)

// BodyRewriter reshapes an item's body before it becomes the item's content.
type BodyRewriter interface {
	Rewrite(body string) string
}

// Paragraphs rewrites a body as a run of <p> elements, see [Normalize].
type Paragraphs struct{}

func (Paragraphs) Rewrite(body string) string {
	return rewrapParagraphs(body)
}

// Normalize turns a parsed item into a [rssmd.FeedItem].
//
// A richer body is preferred over the description and is rewritten as a run of
// <p> elements. Items without a body keep the description verbatim as content.
// Missing or unparseable dates fall back to now.
func Normalize(it Item, now time.Time) rssmd.FeedItem {
	return NormalizeWith(it, now, Paragraphs{})
}

// NormalizeWith is [Normalize] with the body rewritten by rw instead.
func NormalizeWith(it Item, now time.Time, rw BodyRewriter) rssmd.FeedItem {
	item := rssmd.FeedItem{
		Title:       it.Title,
		Link:        it.Link,
		Description: it.Description,
		Content:     it.Description,
		PublishedAt: parseDate(it.PubDate, now),
	}
	if item.Title == "" {
		item.Title = untitled
	}
	if item.Link == "" {
		item.Link = noLink
	}
	if it.Body != "" {
		item.Content = rw.Rewrite(it.Body)
	}

	return item
}

// Pulls out each top level paragraph and wraps its inner html in a fresh <p>.
//
// Bodies without any paragraphs come back untouched.
func rewrapParagraphs(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	var (
		b     strings.Builder
		found bool
	)
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p").Length() > 0 {
			return
		}
		inner, err := s.Html()
		if err != nil {
			return
		}

		found = true
		b.WriteString("<p>")
		b.WriteString(inner)
		b.WriteString("</p>")
	})
	if !found {
		return body
	}

	return b.String()
}

// Dates without a zone, and ones tagged CST, are read as China Standard Time
// since that's the zone everything gets displayed in.
func parseDate(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}

	t, err := dateparse.ParseIn(s, chinaStandardTime)
	if err != nil {
		return now
	}

	return t
}
