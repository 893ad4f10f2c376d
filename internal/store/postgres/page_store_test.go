package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

func testPage(url string) pipeline.PageRecord {
	return pipeline.PageRecord{
		URL:         url,
		Domain:      "shop.example.com",
		Title:       "Ceramic Mug",
		Content:     "A stoneware mug with a matte glaze.",
		ContentHash: "0f343b0931126a20f133d67c2b018a3b1f343b0931126a20f133d67c2b018a3b",
		WordCount:   7,
		ScrapedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestUpsertPage(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStore(mock)
	require.NoError(t, err)

	page := testPage("https://shop.example.com/p/mug")
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			page.URL, page.Domain, page.Title, page.Content,
			page.ContentHash, page.WordCount, page.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPageNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT url, domain").
		WithArgs("https://shop.example.com/p/missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetPage(context.Background(), "https://shop.example.com/p/missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPagesByDomain(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStore(mock)
	require.NoError(t, err)

	first := testPage("https://shop.example.com/p/grinder")
	second := testPage("https://shop.example.com/p/mug")
	rows := pgxmock.NewRows([]string{"url", "domain", "title", "content", "content_hash", "word_count", "scraped_at"})
	for _, p := range []pipeline.PageRecord{first, second} {
		rows.AddRow(p.URL, p.Domain, p.Title, p.Content, p.ContentHash, p.WordCount, p.ScrapedAt)
	}
	mock.ExpectQuery("SELECT url, domain").
		WithArgs("shop.example.com").
		WillReturnRows(rows)

	pages, err := store.ListPagesByDomain(context.Background(), "shop.example.com")
	require.NoError(t, err)
	require.Equal(t, []pipeline.PageRecord{first, second}, pages)
	require.NoError(t, mock.ExpectationsWereMet())
}
