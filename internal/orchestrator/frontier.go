package orchestrator

import (
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Frontier tracks the URLs still to visit for one job. It admits only
// same-host URLs, deduplicates, and stops admitting once maxPages distinct
// URLs have been seen.
type Frontier struct {
	mu       sync.Mutex
	host     string
	maxPages int
	queue    []string
	seen     map[string]struct{}
}

// NewFrontier seeds a frontier for a root URL. Seeds beyond maxPages are
// dropped.
func NewFrontier(rootURL string, seeds []string, maxPages int) (*Frontier, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, err
	}
	f := &Frontier{
		host:     strings.ToLower(root.Hostname()),
		maxPages: maxPages,
		seen:     make(map[string]struct{}),
	}
	if len(seeds) == 0 {
		seeds = []string{rootURL}
	}
	f.Add(seeds...)
	return f, nil
}

// Add offers URLs to the frontier. Off-host, malformed, already-seen, and
// over-budget URLs are silently dropped.
func (f *Frontier) Add(urls ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, raw := range urls {
		if f.maxPages > 0 && len(f.seen) >= f.maxPages {
			return
		}
		normalized, ok := f.normalize(raw)
		if !ok {
			continue
		}
		if _, dup := f.seen[normalized]; dup {
			continue
		}
		f.seen[normalized] = struct{}{}
		f.queue = append(f.queue, normalized)
	}
}

// NextBatch pops up to n URLs in discovery order.
func (f *Frontier) NextBatch(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || len(f.queue) == 0 {
		return nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	return batch
}

// Pending reports how many URLs are waiting.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Discovered reports how many distinct URLs were admitted overall.
func (f *Frontier) Discovered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Frontier) normalize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() != f.host {
		return "", false
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}

// DiscoverLinks extracts same-document anchor targets from rendered HTML,
// resolved against the page URL. The frontier's own filters decide which of
// them survive.
func DiscoverLinks(pageURL string, html []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links
}
