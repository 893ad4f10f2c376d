package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// microdata parses inline semantic attributes (schema.org itemprop
// annotations and common meta tags). Second priority: explicit but scattered.
type microdata struct{}

func newMicrodata() *microdata {
	return &microdata{}
}

func (m *microdata) Name() string { return "microdata" }

func (m *microdata) Extract(doc *goquery.Document) Fields {
	out := Fields{
		Title:        itemprop(doc, "name"),
		Description:  itemprop(doc, "description"),
		Brand:        itemprop(doc, "brand"),
		SKU:          itemprop(doc, "sku"),
		Category:     itemprop(doc, "category"),
		Price:        itemprop(doc, "price"),
		Currency:     itemprop(doc, "priceCurrency"),
		Availability: availabilityLabel(itemprop(doc, "availability")),
	}
	if out.Title == "" {
		out.Title = metaContent(doc, `meta[property="og:title"]`)
	}
	if out.Description == "" {
		out.Description = metaContent(doc, `meta[property="og:description"]`)
	}
	if out.Description == "" {
		out.Description = metaContent(doc, `meta[name="description"]`)
	}
	if out.Price == "" {
		out.Price = metaContent(doc, `meta[property="product:price:amount"]`)
	}
	if out.Currency == "" {
		out.Currency = metaContent(doc, `meta[property="product:price:currency"]`)
	}
	return out
}

// itemprop reads the first element carrying the given itemprop annotation.
// Meta and link variants carry their value in attributes, everything else in
// text content.
func itemprop(doc *goquery.Document, name string) string {
	sel := doc.Find(`[itemprop="` + name + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	if content, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	if href, ok := sel.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return strings.TrimSpace(sel.Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}
