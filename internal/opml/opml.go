// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/zenith/internal/model"
)

// ErrNoFeeds is returned when a well-formed document has no xmlUrl outlines.
var ErrNoFeeds = errors.New("opml contains no feed outlines")

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`

	// Some exporters write the attribute in lower case.
	XMLURLLower string `xml:"xmlurl,attr,omitempty"`
}

func (o Outline) feedURL() string {
	if u := strings.TrimSpace(o.XMLURL); u != "" {
		return u
	}
	return strings.TrimSpace(o.XMLURLLower)
}

// Parser parses OPML text into feed outlines.
type Parser struct{}

// Parse implements the outline parser used by the subscription manager.
func (Parser) Parse(text string) ([]model.Outline, error) {
	return Parse(text)
}

// Parse reads an OPML document and returns every outline carrying an xmlUrl,
// in document order, regardless of nesting.
func Parse(text string) ([]model.Outline, error) {
	var doc OPML
	if err := xml.NewDecoder(strings.NewReader(text)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []model.Outline
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if u := o.feedURL(); u != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, model.Outline{
					XMLURL:  u,
					Title:   title,
					HTMLURL: o.HTMLURL,
					Text:    o.Text,
				})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	if len(entries) == 0 {
		return nil, ErrNoFeeds
	}
	return entries, nil
}

// Export generates a flat OPML document listing feeds in order.
func Export(title string, feeds []model.Feed) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   f.Title,
			Title:  f.Title,
			Type:   "rss",
			XMLURL: f.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
