package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/scraper/internal/engine"
)

// contentSelectors is the ordered list of selector candidates for the
// selector-based strategy, most specific first.
var contentSelectors = []string{
	"[itemprop='articleBody']",
	".article-body",
	".article__body",
	".article-content",
	".story-body",
	".post-content",
	".entry-content",
	"article",
	"main",
}

// jsonLDSelector locates schema.org embedded metadata.
const jsonLDSelector = "script[type='application/ld+json']"

var articleTypes = map[string]bool{
	"Article":               true,
	"NewsArticle":           true,
	"BlogPosting":           true,
	"ReportageNewsArticle":  true,
	"AnalysisNewsArticle":   true,
	"BackgroundNewsArticle": true,
}

// extractStructured reads schema.org article markup embedded as JSON-LD.
// Highest trust: publishers describe their own content here.
func (e *Engine) extractStructured(doc *goquery.Document) (engine.ArticleFields, bool) {
	var fields engine.ArticleFields
	found := false
	doc.Find(jsonLDSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(sel.Text()), &raw); err != nil {
			return true
		}
		node, ok := findArticleNode(raw)
		if !ok {
			return true
		}
		body := strings.TrimSpace(stringField(node, "articleBody"))
		if len(body) < e.cfg.MinContentLength {
			return true
		}
		e.rec.Record(Trace{Field: "body", Selector: jsonLDSelector, Method: "jsonld", Value: body})
		fields = engine.ArticleFields{
			Title:       strings.TrimSpace(stringField(node, "headline")),
			Body:        body,
			Author:      authorField(node),
			PublishedAt: parseDate(stringField(node, "datePublished")),
		}
		e.rec.Record(Trace{Field: "title", Selector: jsonLDSelector, Method: "jsonld", Value: fields.Title})
		found = true
		return false
	})
	return fields, found
}

// findArticleNode walks a decoded JSON-LD value (object, array, or @graph)
// looking for the first schema.org article node.
func findArticleNode(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		if isArticleType(v["@type"]) {
			return v, true
		}
		if graph, ok := v["@graph"]; ok {
			return findArticleNode(graph)
		}
	case []any:
		for _, item := range v {
			if node, ok := findArticleNode(item); ok {
				return node, true
			}
		}
	}
	return nil, false
}

func isArticleType(t any) bool {
	switch v := t.(type) {
	case string:
		return articleTypes[v]
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && articleTypes[s] {
				return true
			}
		}
	}
	return false
}

func stringField(node map[string]any, key string) string {
	if s, ok := node[key].(string); ok {
		return s
	}
	return ""
}

func authorField(node map[string]any) string {
	switch v := node["author"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return strings.TrimSpace(stringField(v, "name"))
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if name := strings.TrimSpace(stringField(m, "name")); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

// extractSelectors tries each content selector in order. When a selector
// matches multiple elements every match contributes text: modern sites split
// an article body across sibling containers, and taking only the first
// element silently loses most of the article.
func (e *Engine) extractSelectors(doc *goquery.Document) (engine.ArticleFields, bool) {
	for _, selector := range contentSelectors {
		matches := doc.Find(selector)
		if matches.Length() == 0 {
			continue
		}
		paragraphs := e.collectParagraphs(matches)
		body := strings.Join(paragraphs, ParagraphSeparator)
		e.rec.Record(Trace{Field: "body", Selector: selector, Method: "text", Value: body})
		if len(body) >= e.cfg.MinContentLength {
			return engine.ArticleFields{Body: body}, true
		}
	}
	return engine.ArticleFields{}, false
}

// collectParagraphs aggregates paragraph text across every matched element,
// applying the structural noise filter per paragraph. Elements without <p>
// children contribute their own text as a single paragraph.
func (e *Engine) collectParagraphs(matches *goquery.Selection) []string {
	var paragraphs []string
	matches.Each(func(_ int, el *goquery.Selection) {
		ps := el.Find("p")
		if ps.Length() == 0 {
			if !discardParagraph(el, e.cfg.FilterMinLength) {
				if text := normalizeSpace(el.Text()); text != "" {
					paragraphs = append(paragraphs, text)
				}
			}
			return
		}
		ps.Each(func(_ int, p *goquery.Selection) {
			if discardParagraph(p, e.cfg.FilterMinLength) {
				return
			}
			if text := normalizeSpace(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
	})
	return paragraphs
}

// extractMetaTags falls back to description-style meta tags. Lowest trust,
// but usually present, so the cascade can still return something useful.
func (e *Engine) extractMetaTags(doc *goquery.Document) (engine.ArticleFields, bool) {
	title := e.attr(doc.Selection, "title", "meta[property='og:title']", "content")
	body := e.attr(doc.Selection, "body", "meta[property='og:description']", "content")
	if body == "" {
		body = e.attr(doc.Selection, "body", "meta[name='description']", "content")
	}
	if body == "" {
		body = e.attr(doc.Selection, "body", "meta[name='twitter:description']", "content")
	}
	if body == "" {
		return engine.ArticleFields{}, false
	}
	return engine.ArticleFields{Title: title, Body: body}, true
}

// extractPageText is the last resort: the whole page body, capped.
func (e *Engine) extractPageText(doc *goquery.Document) (engine.ArticleFields, bool) {
	text := e.text(doc.Find("body"), "body", "body")
	if text == "" {
		return engine.ArticleFields{}, false
	}
	return engine.ArticleFields{Body: truncate(text, e.cfg.PageTextCap)}, true
}
