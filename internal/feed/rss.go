// Package feed lists candidate articles from a source's RSS or Atom feed.
// The two formats are detected from the document root, so a source never has
// to declare which one it serves.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/engine"
)

// Lister implements engine.FeedLister over HTTP feeds.
type Lister struct {
	fetcher engine.Fetcher
	logger  *zap.Logger
}

// NewLister constructs a feed Lister on top of a document fetcher.
func NewLister(fetcher engine.Fetcher, logger *zap.Logger) *Lister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lister{fetcher: fetcher, logger: logger}
}

// List fetches and parses the source's feed. Items without a link are
// dropped; everything else is returned in document order.
func (l *Lister) List(ctx context.Context, source engine.Source) ([]engine.FeedItem, error) {
	resp, err := l.fetcher.Fetch(ctx, engine.FetchRequest{
		JobID:         "",
		URL:           source.FeedURL,
		UserAgent:     source.UserAgent,
		Timeout:       source.Timeout,
		RespectRobots: false,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", source.FeedURL, err)
	}

	items, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source.FeedURL, err)
	}
	l.logger.Debug("feed listed",
		zap.String("source_id", source.ID),
		zap.String("feed_url", source.FeedURL),
		zap.Int("items", len(items)),
	)
	return items, nil
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Parse decodes an RSS 2.0 or Atom document into feed items.
func Parse(data []byte) ([]engine.FeedItem, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}
	switch root {
	case "rss":
		return parseRSS(data)
	case "RDF":
		return parseRDF(data)
	case "feed":
		return parseAtom(data)
	default:
		return nil, fmt.Errorf("unsupported feed root element %q", root)
	}
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read feed root: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func parseRSS(data []byte) ([]engine.FeedItem, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}
	return convertRSSItems(doc.Channel.Items), nil
}

// rdfDoc covers RSS 1.0: items are children of the root, not of a channel.
type rdfDoc struct {
	Items []rssItem `xml:"item"`
}

func parseRDF(data []byte) ([]engine.FeedItem, error) {
	var doc rdfDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rdf: %w", err)
	}
	return convertRSSItems(doc.Items), nil
}

func convertRSSItems(raw []rssItem) []engine.FeedItem {
	items := make([]engine.FeedItem, 0, len(raw))
	for _, it := range raw {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			link = strings.TrimSpace(it.GUID)
		}
		if link == "" {
			continue
		}
		items = append(items, engine.FeedItem{
			Title:       strings.TrimSpace(it.Title),
			URL:         link,
			PublishedAt: parseFeedDate(it.PubDate),
		})
	}
	return items
}

func parseAtom(data []byte) ([]engine.FeedItem, error) {
	var doc atomDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode atom: %w", err)
	}
	items := make([]engine.FeedItem, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		link := pickAtomLink(entry.Links)
		if link == "" {
			continue
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		items = append(items, engine.FeedItem{
			Title:       strings.TrimSpace(entry.Title),
			URL:         link,
			PublishedAt: parseFeedDate(published),
		})
	}
	return items, nil
}

// pickAtomLink prefers rel="alternate" (or no rel), falling back to the
// first link present.
func pickAtomLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			if href := strings.TrimSpace(l.Href); href != "" {
				return href
			}
		}
	}
	for _, l := range links {
		if href := strings.TrimSpace(l.Href); href != "" {
			return href
		}
	}
	return ""
}

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

func parseFeedDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
