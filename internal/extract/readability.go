package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// readability strips navigation, ads, and boilerplate, then walks a
// priority-ordered selector list to locate the main content block.
type readability struct{}

func newReadability() *readability {
	return &readability{}
}

func (r *readability) Name() string { return "readability" }

// Elements removed before the main block is located. Removal mutates a
// clone; the shared document stays intact for later strategies.
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
	".nav", ".navbar", ".menu", ".sidebar", ".footer", ".header",
	".cookie-banner", ".cookie-consent", ".newsletter", ".breadcrumb",
	".advert", ".ads", "[class*=cookie]", "[id*=cookie]",
}

// Main-content candidates in priority order. First selector with enough
// text wins.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	"#main-content",
	"#content",
	".main-content",
	".product-description",
	".entry-content",
	".post-content",
	".content",
}

// minBlockRunes guards against picking a near-empty candidate over the
// document body.
const minBlockRunes = 140

func (r *readability) Extract(doc *goquery.Document) Fields {
	clone := goquery.CloneDocument(doc)
	for _, sel := range strippedSelectors {
		clone.Find(sel).Remove()
	}

	out := Fields{
		Title: strings.TrimSpace(clone.Find("title").First().Text()),
	}
	if h1 := strings.TrimSpace(clone.Find("h1").First().Text()); h1 != "" {
		out.Title = h1
	}

	for _, sel := range contentSelectors {
		block := clone.Find(sel).First()
		if block.Length() == 0 {
			continue
		}
		if text := blockText(block); len(text) >= minBlockRunes {
			out.Body = text
			return out
		}
	}
	out.Body = blockText(clone.Find("body"))
	return out
}

// blockText renders a selection as paragraph-separated text, preserving the
// block structure the chunk splitter relies on.
func blockText(sel *goquery.Selection) string {
	var paragraphs []string
	sel.Find("p, h1, h2, h3, h4, h5, h6, li, td, dd, dt, blockquote").Each(func(_ int, node *goquery.Selection) {
		text := strings.Join(strings.Fields(node.Text()), " ")
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return strings.Join(strings.Fields(sel.Text()), " ")
	}
	return dedupeAdjacent(paragraphs)
}

// dedupeAdjacent drops nested-element repeats (an li inside a td renders
// twice) while keeping order stable.
func dedupeAdjacent(paragraphs []string) string {
	seen := make(map[string]struct{}, len(paragraphs))
	kept := paragraphs[:0]
	for _, p := range paragraphs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n\n")
}
