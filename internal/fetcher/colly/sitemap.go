package collyfetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// maxSitemapURLs caps discovery so a pathological sitemap cannot flood the
// frontier; the job's own maxPages bound applies later regardless.
const maxSitemapURLs = 5000

// DiscoverSitemap fetches and parses the site's sitemap.xml, following one
// level of sitemap-index indirection. An empty result with nil error means
// no sitemap is available and the caller should fall back to link crawling.
func (f *Fetcher) DiscoverSitemap(ctx context.Context, rootURL string) ([]string, error) {
	ctx, cancel := withDiscoveryTimeout(ctx)
	defer cancel()

	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	sitemapURL := root.Scheme + "://" + root.Host + "/sitemap.xml"

	urls, nested, err := f.fetchSitemap(ctx, sitemapURL)
	if err != nil {
		return nil, nil
	}
	for _, child := range nested {
		if len(urls) >= maxSitemapURLs {
			break
		}
		childURLs, _, err := f.fetchSitemap(ctx, child)
		if err != nil {
			continue
		}
		urls = append(urls, childURLs...)
	}
	if len(urls) > maxSitemapURLs {
		urls = urls[:maxSitemapURLs]
	}
	return urls, nil
}

// fetchSitemap visits one sitemap document, returning page URLs and nested
// sitemap references.
func (f *Fetcher) fetchSitemap(ctx context.Context, sitemapURL string) (urls []string, nested []string, err error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var fetchErr error
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			urls = append(urls, loc)
		}
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			nested = append(nested, loc)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("sitemap fetch %s: %w", sitemapURL, err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(sitemapURL); err != nil && fetchErr == nil {
			fetchErr = fmt.Errorf("sitemap visit %s: %w", sitemapURL, err)
		}
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("sitemap discovery canceled: %w", ctx.Err())
	case <-done:
	}

	if fetchErr != nil {
		return nil, nil, fetchErr
	}
	if len(urls) == 0 && len(nested) == 0 {
		return nil, nil, fmt.Errorf("sitemap %s: empty document", sitemapURL)
	}
	return urls, nested, nil
}

// waitBudget bounds a discovery call when the caller passed no deadline.
const waitBudget = 30 * time.Second

// withDiscoveryTimeout wraps ctx with the default discovery budget when it
// has no deadline of its own.
func withDiscoveryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, waitBudget)
}
