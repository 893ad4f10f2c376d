package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sitemapServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverSitemapParsesURLSet(t *testing.T) {
	t.Parallel()

	body := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://shop.example.com/p/espresso</loc></url>
  <url><loc>https://shop.example.com/p/kenya</loc></url>
</urlset>`
	srv := sitemapServer(t, map[string]string{"/sitemap.xml": body})

	f := New(Config{Timeout: 5 * time.Second})
	urls, err := f.DiscoverSitemap(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://shop.example.com/p/espresso",
		"https://shop.example.com/p/kenya",
	}, urls)
}

func TestDiscoverSitemapFollowsIndex(t *testing.T) {
	t.Parallel()

	routes := map[string]string{}
	srv := sitemapServer(t, routes)
	routes["/sitemap.xml"] = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + srv.URL + `/sitemap-products.xml</loc></sitemap>
</sitemapindex>`
	routes["/sitemap-products.xml"] = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://shop.example.com/p/tumbler</loc></url>
</urlset>`

	f := New(Config{Timeout: 5 * time.Second})
	urls, err := f.DiscoverSitemap(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://shop.example.com/p/tumbler"}, urls)
}

// A site without a sitemap reports empty-and-nil so the caller falls back
// to link crawling.
func TestDiscoverSitemapMissing(t *testing.T) {
	t.Parallel()

	srv := sitemapServer(t, map[string]string{})
	f := New(Config{Timeout: 5 * time.Second})
	urls, err := f.DiscoverSitemap(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestDiscoveryTimeoutAppliedWhenNoDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := withDiscoveryTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(waitBudget), deadline, time.Second)
}

func TestDiscoveryTimeoutPreservesCallerDeadline(t *testing.T) {
	t.Parallel()

	want := time.Now().Add(time.Hour)
	parent, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()

	ctx, release := withDiscoveryTimeout(parent)
	defer release()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.Equal(t, want, deadline)
}
