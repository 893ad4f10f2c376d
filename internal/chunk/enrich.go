package chunk

import (
	"strings"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// EnrichText prefixes the chunk text with its structured commerce fields.
// Retrieval quality depends on this context living inside the embedded text
// itself, not only in side metadata; the same fields are also persisted as a
// sidecar on the chunk row for filtering.
func EnrichText(chunk pipeline.ContentChunk) string {
	meta := chunk.Metadata
	if meta.IsZero() {
		return chunk.Text
	}
	var parts []string
	if meta.Category != "" {
		parts = append(parts, "Category: "+meta.Category)
	}
	if meta.Brand != "" {
		parts = append(parts, "Brand: "+meta.Brand)
	}
	if meta.Price != "" {
		price := meta.Price
		if meta.Currency != "" {
			price = price + " " + meta.Currency
		}
		parts = append(parts, "Price: "+price)
	}
	if meta.Availability != "" {
		parts = append(parts, "Availability: "+meta.Availability)
	}
	if meta.SKU != "" {
		parts = append(parts, "SKU: "+meta.SKU)
	}
	if len(parts) == 0 {
		return chunk.Text
	}
	return strings.Join(parts, " | ") + "\n" + chunk.Text
}
