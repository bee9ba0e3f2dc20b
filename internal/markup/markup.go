// Package markup wraps goquery for the handful of attribute lookups the resolvers need.
package markup

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Options holds the player option attributes of a DooPlay-style mirror list item.
type Options struct {
	Type string
	Post string
	Nume string
}

// Parse builds a Document from raw HTML. Fragments are accepted.
func Parse(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// IframeSrc returns the src of the first iframe that has one.
func (d *Document) IframeSrc() (string, bool) {
	return d.firstAttr("iframe[src]", "src")
}

// SourceSrc returns the src of the first <source> or <video> element that has one.
func (d *Document) SourceSrc() (string, bool) {
	if src, ok := d.firstAttr("source[src]", "src"); ok {
		return src, true
	}
	return d.firstAttr("video[src]", "src")
}

// Options returns the data-type, data-post and data-nume attributes of the first
// element carrying data-post.
func (d *Document) Options() (Options, bool) {
	sel := d.doc.Find("[data-post]").First()
	if sel.Length() == 0 {
		return Options{}, false
	}
	var o Options
	o.Type, _ = sel.Attr("data-type")
	o.Post, _ = sel.Attr("data-post")
	o.Nume, _ = sel.Attr("data-nume")
	return o, o.Post != "" && o.Nume != ""
}

// Scripts returns the bodies of every inline <script> element, in document order.
func (d *Document) Scripts() []string {
	var out []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if body := s.Text(); strings.TrimSpace(body) != "" {
			out = append(out, body)
		}
	})
	return out
}

// Attr returns attr of the first element matching selector.
func (d *Document) Attr(selector, attr string) (string, bool) {
	return d.firstAttr(selector, attr)
}

func (d *Document) firstAttr(selector, attr string) (string, bool) {
	var (
		val   string
		found bool
	)
	d.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(attr)
		v = strings.TrimSpace(v)
		if ok && v != "" {
			val, found = v, true
			return false
		}
		return true
	})
	return val, found
}

// IframeSrc parses html and returns its first iframe src.
func IframeSrc(html string) (string, bool) {
	d, err := Parse(html)
	if err != nil {
		return "", false
	}
	return d.IframeSrc()
}

// Scripts parses html and returns its inline script bodies.
func Scripts(html string) []string {
	d, err := Parse(html)
	if err != nil {
		return nil
	}
	return d.Scripts()
}
