// Package extract turns raw HTML into structured content via an ordered
// strategy chain: structured-data parse, micro-annotation parse, generic
// readability extraction, and a platform-fingerprint DOM fallback.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Fields is the normalized, strategy-independent extraction output. Each
// field records only its first non-empty value; which strategy supplied
// which field is irrelevant to downstream consumers.
type Fields struct {
	Title        string
	Body         string
	Description  string
	Category     string
	Brand        string
	Price        string
	Currency     string
	Availability string
	SKU          string
}

// Merge fills empty fields of f from other, first-match-wins.
func (f *Fields) Merge(other Fields) {
	if f.Title == "" {
		f.Title = other.Title
	}
	if f.Body == "" {
		f.Body = other.Body
	}
	if f.Description == "" {
		f.Description = other.Description
	}
	if f.Category == "" {
		f.Category = other.Category
	}
	if f.Brand == "" {
		f.Brand = other.Brand
	}
	if f.Price == "" {
		f.Price = other.Price
	}
	if f.Currency == "" {
		f.Currency = other.Currency
	}
	if f.Availability == "" {
		f.Availability = other.Availability
	}
	if f.SKU == "" {
		f.SKU = other.SKU
	}
}

// sufficient reports whether the chain can stop before the platform
// fallback: a body and a title are the minimum useful outcome.
func (f Fields) sufficient() bool {
	return f.Title != "" && f.Body != ""
}

// Strategy extracts fields from a parsed document. Implementations return
// zero values for fields they cannot supply.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document) Fields
}

// ErrInsufficientContent marks pages rejected by the validation gate. The
// orchestrator records these as skipped, never failed.
var ErrInsufficientContent = errors.New("insufficient content")

// Config controls the validation gate.
type Config struct {
	MinWordCount int
}

// Extractor runs the ordered strategy chain with field-level merge.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MinWordCount <= 0 {
		cfg.MinWordCount = 25
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract parses html and runs the chain. The platform fallback only runs
// when the platform is recognized and earlier strategies left the result
// insufficient. Extraction is deterministic: identical HTML yields identical
// fields.
func (e *Extractor) Extract(html []byte, pageURL string) (Fields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Fields{}, fmt.Errorf("parse html: %w", err)
	}

	if sig := matchErrorPage(doc); sig != "" {
		return Fields{}, fmt.Errorf("%w: error page signature %q", ErrInsufficientContent, sig)
	}

	var out Fields
	for _, strategy := range []Strategy{newStructuredData(), newMicrodata(), newReadability()} {
		out.Merge(strategy.Extract(doc))
	}

	if !out.sufficient() {
		if platform := DetectPlatform(doc); platform != PlatformUnknown {
			e.logger.Debug("platform fallback engaged",
				zap.String("url", pageURL),
				zap.String("platform", string(platform)),
			)
			out.Merge(newPlatformFallback(platform).Extract(doc))
		}
	}

	if wc := WordCount(out.Body); wc < e.cfg.MinWordCount {
		return Fields{}, fmt.Errorf("%w: %d words below minimum %d", ErrInsufficientContent, wc, e.cfg.MinWordCount)
	}
	return out, nil
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Domain extracts the lowercase hostname from a URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Known error-page signatures checked by the validation gate.
var errorPageSignatures = []string{
	"page not found",
	"404 not found",
	"this page could not be found",
	"access denied",
	"checking your browser",
	"enable javascript and cookies to continue",
}

func matchErrorPage(doc *goquery.Document) string {
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	h1 := strings.ToLower(strings.TrimSpace(doc.Find("h1").First().Text()))
	for _, sig := range errorPageSignatures {
		if strings.Contains(title, sig) || strings.Contains(h1, sig) {
			return sig
		}
	}
	return ""
}
