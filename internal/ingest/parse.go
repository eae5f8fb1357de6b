// Package ingest turns a list of feed URLs into normalized, sorted feed items.
//
// A cycle fetches every URL once, parses the feed document, normalizes each item
// and reports progress to an [rssmd.EventSink] as each feed completes.
package ingest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
)

const contentNamespace = "http://purl.org/rss/1.0/modules/content/"

type (
	// Channel is a parsed feed document.
	Channel struct {
		Title       string
		Link        string
		Description string
		Items       []Item
	}

	// Item is a feed entry as found in the document. Empty fields were absent.
	Item struct {
		Title       string
		Link        string
		Description string
		Body        string // content:encoded for RSS, content for Atom
		PubDate     string
	}
)

// ParseError is returned when a feed document is not well formed or isn't
// shaped like a feed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析XML失败: %s", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Represents an RSS 2.0 document.
type rssDoc struct {
	XMLName xml.Name    `xml:"rss"`
	Channel *rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Links       []rssLink `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title        string    `xml:"title"`
	Links        []rssLink `xml:"link"`
	Description  string    `xml:"description"`
	Encoded      string    `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate      string    `xml:"pubDate"`
	LowerPubDate string    `xml:"pubdate"`

	// Catches content:encoded when the feed forgot to declare the namespace.
	Other []rawElement `xml:",any"`
}

// Channels often carry an <atom:link href="..."/> next to the real <link>.
type rssLink struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type rawElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Parse decodes a feed document. RSS 2.0 is the primary format; Atom documents
// are accepted as well.
func Parse(doc []byte) (Channel, error) {
	root, err := rootElement(doc)
	if err != nil {
		return Channel{}, &ParseError{Err: err}
	}

	switch root.Local {
	case "rss":
		return parseRSS(doc)
	case "feed":
		return parseAtom(doc)
	default:
		return Channel{}, &ParseError{Err: fmt.Errorf("unrecognized root element <%s>", root.Local)}
	}
}

func newDecoder(doc []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(doc))
	d.CharsetReader = charset.NewReaderLabel
	d.Entity = xml.HTMLEntity

	return d
}

// Walks the whole document and returns the name of its root element.
//
// Decoding alone stops at the end of the root, so this is what rejects a second
// root or stray text after it.
func rootElement(doc []byte) (xml.Name, error) {
	var (
		d     = newDecoder(doc)
		root  xml.Name
		depth int
		seen  bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return xml.Name{}, err
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if seen {
					return xml.Name{}, fmt.Errorf("unexpected element <%s> after the root element", tok.Name.Local)
				}
				root, seen = tok.Name, true
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(tok)) > 0 {
				return xml.Name{}, errors.New("text outside the root element")
			}
		}
	}
	if !seen {
		return xml.Name{}, errors.New("document has no root element")
	}

	return root, nil
}

func parseRSS(doc []byte) (Channel, error) {
	var feed rssDoc
	if err := newDecoder(doc).Decode(&feed); err != nil {
		return Channel{}, &ParseError{Err: err}
	}
	if feed.Channel == nil {
		return Channel{}, &ParseError{Err: errors.New("missing <channel> element")}
	}

	ch := Channel{
		Title:       strings.TrimSpace(feed.Channel.Title),
		Link:        pickLink(feed.Channel.Links),
		Description: strings.TrimSpace(feed.Channel.Description),
		Items:       make([]Item, 0, len(feed.Channel.Items)),
	}
	for _, it := range feed.Channel.Items {
		pubDate := it.PubDate
		if strings.TrimSpace(pubDate) == "" {
			pubDate = it.LowerPubDate
		}

		ch.Items = append(ch.Items, Item{
			Title:       strings.TrimSpace(it.Title),
			Link:        pickLink(it.Links),
			Description: strings.TrimSpace(it.Description),
			Body:        strings.TrimSpace(it.body()),
			PubDate:     strings.TrimSpace(pubDate),
		})
	}

	return ch, nil
}

func (it rssItem) body() string {
	if it.Encoded != "" {
		return it.Encoded
	}
	for _, el := range it.Other {
		if el.XMLName.Local == "encoded" && (el.XMLName.Space == "content" || el.XMLName.Space == contentNamespace) {
			return el.Value
		}
	}

	return ""
}

// The first <link> with text wins; atom:link elements only have an href.
func pickLink(links []rssLink) string {
	for _, l := range links {
		if v := strings.TrimSpace(l.Value); v != "" {
			return v
		}
	}

	return ""
}

func parseAtom(doc []byte) (Channel, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(doc))
	if err != nil {
		return Channel{}, &ParseError{Err: err}
	}

	ch := Channel{
		Title:       strings.TrimSpace(feed.Title),
		Link:        strings.TrimSpace(feed.Link),
		Description: strings.TrimSpace(feed.Description),
		Items:       make([]Item, 0, len(feed.Items)),
	}
	for _, it := range feed.Items {
		pubDate := it.Published
		if pubDate == "" {
			pubDate = it.Updated
		}

		ch.Items = append(ch.Items, Item{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: strings.TrimSpace(it.Description),
			Body:        strings.TrimSpace(it.Content),
			PubDate:     strings.TrimSpace(pubDate),
		})
	}

	return ch, nil
}
