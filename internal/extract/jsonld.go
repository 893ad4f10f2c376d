package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredData parses embedded JSON-LD blocks (schema.org Product and
// Article markup). It is the highest-priority strategy because the site
// author states the fields explicitly.
type structuredData struct{}

func newStructuredData() *structuredData {
	return &structuredData{}
}

func (s *structuredData) Name() string { return "structured-data" }

func (s *structuredData) Extract(doc *goquery.Document) Fields {
	var out Fields
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, node := range decodeJSONLD(sel.Text()) {
			out.Merge(fieldsFromJSONLD(node))
		}
		return !out.sufficient()
	})
	return out
}

// decodeJSONLD tolerates both a single object and a top-level array, plus
// the @graph wrapper some generators emit.
func decodeJSONLD(raw string) []map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var nodes []map[string]any

	var single map[string]any
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		nodes = append(nodes, single)
	} else {
		var many []map[string]any
		if err := json.Unmarshal([]byte(raw), &many); err != nil {
			return nil
		}
		nodes = append(nodes, many...)
	}

	var flat []map[string]any
	for _, node := range nodes {
		flat = append(flat, node)
		if graph, ok := node["@graph"].([]any); ok {
			for _, entry := range graph {
				if m, ok := entry.(map[string]any); ok {
					flat = append(flat, m)
				}
			}
		}
	}
	return flat
}

func fieldsFromJSONLD(node map[string]any) Fields {
	switch jsonldType(node) {
	case "product":
		return productFields(node)
	case "article", "newsarticle", "blogposting":
		return articleFields(node)
	default:
		return Fields{}
	}
}

func jsonldType(node map[string]any) string {
	switch t := node["@type"].(type) {
	case string:
		return strings.ToLower(t)
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return strings.ToLower(s)
			}
		}
	}
	return ""
}

func productFields(node map[string]any) Fields {
	out := Fields{
		Title:       stringValue(node["name"]),
		Description: stringValue(node["description"]),
		SKU:         stringValue(node["sku"]),
		Category:    stringValue(node["category"]),
	}
	if brand, ok := node["brand"].(map[string]any); ok {
		out.Brand = stringValue(brand["name"])
	} else {
		out.Brand = stringValue(node["brand"])
	}
	if offer := firstOffer(node["offers"]); offer != nil {
		out.Price = stringValue(offer["price"])
		out.Currency = stringValue(offer["priceCurrency"])
		out.Availability = availabilityLabel(stringValue(offer["availability"]))
	}
	// The description doubles as body text when no readable block exists.
	out.Body = out.Description
	return out
}

func articleFields(node map[string]any) Fields {
	return Fields{
		Title:       stringValue(node["headline"]),
		Description: stringValue(node["description"]),
		Body:        stringValue(node["articleBody"]),
	}
}

func firstOffer(v any) map[string]any {
	switch offers := v.(type) {
	case map[string]any:
		return offers
	case []any:
		if len(offers) > 0 {
			if m, ok := offers[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// availabilityLabel reduces schema.org availability URIs to a short label.
func availabilityLabel(raw string) string {
	if raw == "" {
		return ""
	}
	if idx := strings.LastIndexByte(raw, '/'); idx >= 0 {
		raw = raw[idx+1:]
	}
	return raw
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", val), "0"), ".")
	case json.Number:
		return val.String()
	}
	return ""
}
