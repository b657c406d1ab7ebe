// Package extract implements the content-extraction strategy cascade. Given
// a fetched HTML document and its URL it produces a best-effort article
// record using an ordered list of strategies, the first one yielding enough
// body text winning. The package performs no I/O and holds no state between
// documents.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/scraper/internal/engine"
)

// ParagraphSeparator joins paragraphs in extracted bodies. The double
// newline survives whitespace normalization downstream, so paragraph
// boundaries stay recoverable.
const ParagraphSeparator = "\n\n"

// ErrNoContent is returned when every strategy in the cascade comes up
// empty.
var ErrNoContent = errors.New("no extractable content")

// Config tunes the cascade's stop condition and filtering.
type Config struct {
	// MinContentLength is the body length a high-trust strategy must reach
	// to win the cascade.
	MinContentLength int
	// PageTextCap bounds the last-resort full-page extraction.
	PageTextCap int
	// FilterMinLength is the length gate below which the structural
	// paragraph filter never fires.
	FilterMinLength int
}

func (c Config) withDefaults() Config {
	if c.MinContentLength <= 0 {
		c.MinContentLength = 250
	}
	if c.PageTextCap <= 0 {
		c.PageTextCap = 10000
	}
	if c.FilterMinLength <= 0 {
		c.FilterMinLength = 20
	}
	return c
}

// strategy is one step of the cascade: a pure function with a uniform
// contract, tried in fixed priority order.
type strategy struct {
	name string
	run  func(e *Engine, doc *goquery.Document) (engine.ArticleFields, bool)
}

// Engine implements engine.Extractor. It is safe for concurrent use as long
// as the injected Recorder is.
type Engine struct {
	cfg        Config
	rec        Recorder
	strategies []strategy
}

// New constructs an extraction Engine. A nil recorder gets the no-op
// implementation.
func New(cfg Config, rec Recorder) *Engine {
	if rec == nil {
		rec = NopRecorder{}
	}
	e := &Engine{cfg: cfg.withDefaults(), rec: rec}
	e.strategies = []strategy{
		{name: StrategyStructured, run: (*Engine).extractStructured},
		{name: StrategySelectors, run: (*Engine).extractSelectors},
		{name: StrategyMetaTags, run: (*Engine).extractMetaTags},
		{name: StrategyPageText, run: (*Engine).extractPageText},
	}
	return e
}

// Strategy names reported on extracted articles, highest trust first.
const (
	StrategyStructured = "structured"
	StrategySelectors  = "selectors"
	StrategyMetaTags   = "meta_tags"
	StrategyPageText   = "page_text"
)

// Extract runs the cascade over one document.
func (e *Engine) Extract(document []byte, url string) (engine.ArticleFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return engine.ArticleFields{}, fmt.Errorf("parse document: %w", err)
	}
	removeNonContent(doc)

	for _, s := range e.strategies {
		fields, ok := s.run(e, doc)
		if !ok {
			continue
		}
		fields.Strategy = s.name
		e.fillCommonFields(doc, &fields)
		return fields, nil
	}
	return engine.ArticleFields{}, fmt.Errorf("%w: %s", ErrNoContent, url)
}

// fillCommonFields backfills title, author and date from shared locations
// when the winning strategy did not provide them.
func (e *Engine) fillCommonFields(doc *goquery.Document, fields *engine.ArticleFields) {
	if fields.Title == "" {
		fields.Title = e.lookupTitle(doc)
	}
	if fields.Author == "" {
		fields.Author = e.lookupAuthor(doc)
	}
	if fields.PublishedAt == nil {
		fields.PublishedAt = e.lookupDate(doc)
	}
}

func (e *Engine) lookupTitle(doc *goquery.Document) string {
	if v := e.attr(doc.Selection, "title", "meta[property='og:title']", "content"); v != "" {
		return v
	}
	if v := e.text(doc.Find("h1").First(), "title", "h1"); v != "" {
		return v
	}
	return e.text(doc.Find("title").First(), "title", "title")
}

func (e *Engine) lookupAuthor(doc *goquery.Document) string {
	if v := e.attr(doc.Selection, "author", "meta[name='author']", "content"); v != "" {
		return v
	}
	if v := e.text(doc.Find("[rel='author']").First(), "author", "[rel='author']"); v != "" {
		return v
	}
	return e.text(doc.Find("[itemprop='author']").First(), "author", "[itemprop='author']")
}

func (e *Engine) lookupDate(doc *goquery.Document) *time.Time {
	if v := e.attr(doc.Selection, "date", "meta[property='article:published_time']", "content"); v != "" {
		if t := parseDate(v); t != nil {
			return t
		}
	}
	sel := doc.Find("time[datetime]").First()
	if sel.Length() > 0 {
		raw, _ := sel.Attr("datetime")
		e.rec.Record(Trace{Field: "date", Selector: "time[datetime]", Method: "attr", Value: raw})
		if t := parseDate(raw); t != nil {
			return t
		}
	}
	return nil
}

// text is the primitive text-read: it trims the selection text and notifies
// the recorder.
func (e *Engine) text(sel *goquery.Selection, field, selector string) string {
	v := normalizeSpace(sel.Text())
	e.rec.Record(Trace{Field: field, Selector: selector, Method: "text", Value: v})
	return v
}

// attr is the primitive attribute-read over the first match of selector.
func (e *Engine) attr(root *goquery.Selection, field, selector, name string) string {
	v, _ := root.Find(selector).First().Attr(name)
	v = strings.TrimSpace(v)
	e.rec.Record(Trace{Field: field, Selector: selector, Method: "attr:" + name, Value: v})
	return v
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
