package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontierSeedsRootWhenNoSitemap(t *testing.T) {
	t.Parallel()

	f, err := NewFrontier("https://shop.example.com", nil, 10)
	require.NoError(t, err)
	require.Equal(t, 1, f.Pending())
	require.Equal(t, []string{"https://shop.example.com/"}, f.NextBatch(5))
	require.Equal(t, 0, f.Pending())
	require.Equal(t, 1, f.Discovered())
}

func TestFrontierDropsOffHostAndMalformed(t *testing.T) {
	t.Parallel()

	f, err := NewFrontier("https://shop.example.com", nil, 10)
	require.NoError(t, err)
	f.Add(
		"https://other.example.com/p/mug",
		"ftp://shop.example.com/feed",
		"://bad",
		"https://shop.example.com/p/mug",
	)
	require.Equal(t, 2, f.Discovered())
	require.Contains(t, f.NextBatch(10), "https://shop.example.com/p/mug")
}

func TestFrontierNormalizesBeforeDeduplicating(t *testing.T) {
	t.Parallel()

	f, err := NewFrontier("https://shop.example.com/", nil, 10)
	require.NoError(t, err)
	f.Add(
		"https://shop.example.com",
		"https://SHOP.example.com/#reviews",
		"https://shop.example.com/p/mug",
		"https://shop.example.com/p/mug#details",
	)
	// The bare host, the fragment variant, and the root seed are one URL.
	require.Equal(t, 2, f.Discovered())
}

func TestFrontierStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	seeds := []string{
		"https://shop.example.com/p/1",
		"https://shop.example.com/p/2",
		"https://shop.example.com/p/3",
		"https://shop.example.com/p/4",
	}
	f, err := NewFrontier("https://shop.example.com", seeds, 3)
	require.NoError(t, err)
	require.Equal(t, 3, f.Discovered())

	f.Add("https://shop.example.com/p/5")
	require.Equal(t, 3, f.Discovered())
}

func TestFrontierNextBatchPreservesDiscoveryOrder(t *testing.T) {
	t.Parallel()

	seeds := []string{
		"https://shop.example.com/a",
		"https://shop.example.com/b",
		"https://shop.example.com/c",
	}
	f, err := NewFrontier("https://shop.example.com", seeds, 0)
	require.NoError(t, err)

	require.Equal(t, []string{"https://shop.example.com/a", "https://shop.example.com/b"}, f.NextBatch(2))
	require.Equal(t, []string{"https://shop.example.com/c"}, f.NextBatch(2))
	require.Nil(t, f.NextBatch(2))
}

func TestDiscoverLinks(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><body>
		<a href="/p/mug">Mug</a>
		<a href="grinder">Grinder</a>
		<a href="https://cdn.example.net/asset.js">CDN</a>
		<a href="#reviews">Reviews</a>
		<a href="mailto:help@shop.example.com">Email</a>
		<a href="javascript:void(0)">Menu</a>
	</body></html>`)

	links := DiscoverLinks("https://shop.example.com/collections/coffee/", html)
	require.Equal(t, []string{
		"https://shop.example.com/p/mug",
		"https://shop.example.com/collections/coffee/grinder",
		"https://cdn.example.net/asset.js",
	}, links)
}
