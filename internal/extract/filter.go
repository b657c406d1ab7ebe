package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nonContentSelector matches containers removed unconditionally before any
// strategy runs. Removal is by tag or ARIA role only, never by text content.
const nonContentSelector = "script:not([type='application/ld+json']), style, noscript, template, iframe, form, svg, " +
	"nav, header, footer, aside, " +
	"[role='navigation'], [role='banner'], [role='contentinfo'], " +
	"[role='complementary'], [role='search'], [aria-hidden='true']"

func removeNonContent(doc *goquery.Document) {
	doc.Find(nonContentSelector).Remove()
}

// discardParagraph reports whether a paragraph element is structural noise.
// A paragraph is discarded only when its text is entirely a single
// hyperlink, entirely upper-case, and at least minLen characters long. All
// three must hold; filtering never inspects keywords.
func discardParagraph(sel *goquery.Selection, minLen int) bool {
	text := normalizeSpace(sel.Text())
	if len(text) < minLen {
		return false
	}
	if !isAllUpper(text) {
		return false
	}
	links := sel.Find("a")
	if links.Length() != 1 {
		return false
	}
	return normalizeSpace(links.First().Text()) == text
}

// isAllUpper reports whether the text contains letters and none of them are
// lower-case.
func isAllUpper(text string) bool {
	return text != strings.ToLower(text) && text == strings.ToUpper(text)
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
