package wollplatz

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woolpilot/wool-pilot/internal/models"
	"github.com/woolpilot/wool-pilot/internal/ratelimit"
	"github.com/woolpilot/wool-pilot/internal/scrape"
)

const searchHTML = `<html><body>
<div class="sooqrSearchContainer">
  <div class="sqr-resultItem" data-id="4647">
    <h3 class="productlist-title"><a href="/drops-safran" title="Drops Safran">Drops Safran</a></h3>
  </div>
  <div class="sqr-resultItem" data-id="18098">
    <h3 class="productlist-title"><a href="https://www.wollplatz.de/stylecraft-special-dk" title="Stylecraft Special DK">Stylecraft Special DK</a></h3>
  </div>
  <div class="sqr-resultItem">
    <h3 class="productlist-title"><a href="/no-id">Missing data-id</a></h3>
  </div>
  <div class="sqr-resultItem" data-id="999"><span>no product link</span></div>
</div>
</body></html>`

const safranHTML = `<html><head><title>Drops Safran</title></head><body>
<h1 id="pageheadertitle"> Drops Safran </h1>
<span class="product-price" content="4.50">&euro; 4,50</span>
<div id="ContentPlaceHolder1_upStockInfoDescription"> Lieferbar </div>
<div class="pdetail-specsholder">
  <div id="pdetailTableSpecs">
    <table>
      <tr><td>Nadelstärke</td><td>3 mm</td></tr>
      <tr><td>Zusammenstellung</td><td>100% Baumwolle</td></tr>
      <tr><td>Marke</td><td>Drops</td></tr>
      <tr><td>single cell row</td></tr>
    </table>
  </div>
</div>
</body></html>`

const stylecraftHTML = `<html><head><title>Stylecraft Special DK</title></head><body>
<h1 id="pageheadertitle">Stylecraft Special double knit</h1>
<span class="product-price" content="3.25">&euro; 3,25</span>
<div id="ContentPlaceHolder1_upStockInfoDescription">Ausverkauft</div>
<div id="pdetailTableSpecs">
  <table>
    <tr><td>Nadelstärke</td><td>4 mm</td></tr>
    <tr><td>Zusammenstellung</td><td>100% Acryl</td></tr>
  </table>
</div>
</body></html>`

type stubPage struct {
	url        string
	title      string
	content    string
	titleErr   error
	contentErr error
}

func (p *stubPage) URL() string              { return p.url }
func (p *stubPage) Title() (string, error)   { return p.title, p.titleErr }
func (p *stubPage) Content() (string, error) { return p.content, p.contentErr }

type stubSession struct {
	pages   map[string]string
	loadErr map[string]error
	loads   []string
}

func (s *stubSession) Load(_ context.Context, url string) (scrape.Page, error) {
	s.loads = append(s.loads, url)
	if err := s.loadErr[url]; err != nil {
		return nil, err
	}
	html, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no such page: %s", url)
	}
	return &stubPage{url: url, content: html}, nil
}

func (s *stubSession) Close() error { return nil }

type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

func (l *countingLimiter) SetDelay(min, max time.Duration) {}

func newTestSite(t *testing.T) *Site {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithBaseURL("https://www.wollplatz.de", ratelimit.NewSimpleRateLimiter(0, 0), logger)
}

func TestSearchURL(t *testing.T) {
	site := newTestSite(t)

	tests := []struct {
		name string
		term string
		want string
	}{
		{
			name: "term with spaces",
			term: "Drops Safran",
			want: "https://www.wollplatz.de/?#sqr:(q%5BDrops%20Safran%5D)",
		},
		{
			name: "single word",
			term: "Katia",
			want: "https://www.wollplatz.de/?#sqr:(q%5BKatia%5D)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, site.SearchURL(tt.term))
		})
	}
}

func TestParseSearchResults(t *testing.T) {
	t.Run("extracts id and resolved link per item", func(t *testing.T) {
		metas, err := ParseSearchResults(searchHTML, "https://www.wollplatz.de")
		require.NoError(t, err)

		require.Len(t, metas, 2)
		assert.Equal(t, models.Meta{ID: "4647", URL: "https://www.wollplatz.de/drops-safran"}, metas[0])
		assert.Equal(t, models.Meta{ID: "18098", URL: "https://www.wollplatz.de/stylecraft-special-dk"}, metas[1])
	})

	t.Run("missing container is an error", func(t *testing.T) {
		_, err := ParseSearchResults(`<html><body><p>loading...</p></body></html>`, "https://www.wollplatz.de")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "container not found")
	})

	t.Run("empty container yields no results", func(t *testing.T) {
		metas, err := ParseSearchResults(`<div class="sooqrSearchContainer"></div>`, "https://www.wollplatz.de")
		require.NoError(t, err)
		assert.Empty(t, metas)
	})
}

func TestParseProductPage(t *testing.T) {
	meta := models.Meta{ID: "4647", URL: "https://www.wollplatz.de/drops-safran"}

	t.Run("extracts full record", func(t *testing.T) {
		product, err := ParseProductPage(safranHTML, meta)
		require.NoError(t, err)

		assert.Equal(t, meta, product.Meta)
		assert.Equal(t, "Drops Safran", product.Name)
		assert.Equal(t, models.Price{Amount: "4.50", Currency: "EUR"}, product.Price)
		assert.Equal(t, "3 mm", product.NeedleSize)
		assert.Equal(t, "100% Baumwolle", product.Composition)
		assert.Equal(t, "Lieferbar", product.Availability)
		assert.False(t, product.ScrapedAt.IsZero())
	})

	t.Run("missing price is an error", func(t *testing.T) {
		html := `<h1 id="pageheadertitle">Drops Safran</h1>`
		_, err := ParseProductPage(html, meta)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name or price not found")
	})

	t.Run("missing name is an error", func(t *testing.T) {
		html := `<span class="product-price" content="4.50"></span>`
		_, err := ParseProductPage(html, meta)
		require.Error(t, err)
	})

	t.Run("optional fields may be absent", func(t *testing.T) {
		html := `<h1 id="pageheadertitle">Drops Safran</h1><span class="product-price" content="4.50"></span>`
		product, err := ParseProductPage(html, meta)
		require.NoError(t, err)

		assert.Empty(t, product.NeedleSize)
		assert.Empty(t, product.Composition)
		assert.Empty(t, product.Availability)
	})
}

func TestExtract(t *testing.T) {
	searchPage := &stubPage{url: "https://www.wollplatz.de/?#sqr:(q%5BDrops%5D)", content: searchHTML}

	t.Run("loads and parses every hit", func(t *testing.T) {
		site := newTestSite(t)
		sess := &stubSession{pages: map[string]string{
			"https://www.wollplatz.de/drops-safran":          safranHTML,
			"https://www.wollplatz.de/stylecraft-special-dk": stylecraftHTML,
		}}

		products, err := site.Extract(context.Background(), sess, searchPage)
		require.NoError(t, err)

		require.Len(t, products, 2)
		assert.Equal(t, "Drops Safran", products[0].Name)
		assert.Equal(t, "4647", products[0].Meta.ID)
		assert.Equal(t, "Stylecraft Special double knit", products[1].Name)
		assert.Equal(t, "18098", products[1].Meta.ID)
		assert.Equal(t, []string{
			"https://www.wollplatz.de/drops-safran",
			"https://www.wollplatz.de/stylecraft-special-dk",
		}, sess.loads)
	})

	t.Run("no hits yields no records and no error", func(t *testing.T) {
		site := newTestSite(t)
		sess := &stubSession{}
		empty := &stubPage{content: `<div class="sooqrSearchContainer"></div>`}

		products, err := site.Extract(context.Background(), sess, empty)
		require.NoError(t, err)
		assert.Empty(t, products)
		assert.Empty(t, sess.loads)
	})

	t.Run("unrendered search page is an error", func(t *testing.T) {
		site := newTestSite(t)
		blank := &stubPage{content: `<html><body></body></html>`}

		_, err := site.Extract(context.Background(), &stubSession{}, blank)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "container not found")
	})

	t.Run("detail load failure aborts with a network error", func(t *testing.T) {
		site := newTestSite(t)
		sess := &stubSession{
			pages: map[string]string{
				"https://www.wollplatz.de/stylecraft-special-dk": stylecraftHTML,
			},
			loadErr: map[string]error{
				"https://www.wollplatz.de/drops-safran": fmt.Errorf("net::ERR_TIMED_OUT"),
			},
		}

		_, err := site.Extract(context.Background(), sess, searchPage)
		require.Error(t, err)
		assert.Equal(t, scrape.KindNetwork, scrape.KindOf(err))
	})

	t.Run("unparseable detail page is skipped", func(t *testing.T) {
		site := newTestSite(t)
		sess := &stubSession{pages: map[string]string{
			"https://www.wollplatz.de/drops-safran":          `<html><body>out of print</body></html>`,
			"https://www.wollplatz.de/stylecraft-special-dk": stylecraftHTML,
		}}

		products, err := site.Extract(context.Background(), sess, searchPage)
		require.NoError(t, err)

		require.Len(t, products, 1)
		assert.Equal(t, "18098", products[0].Meta.ID)
	})

	t.Run("nothing parseable is an error", func(t *testing.T) {
		site := newTestSite(t)
		sess := &stubSession{pages: map[string]string{
			"https://www.wollplatz.de/drops-safran":          `<html></html>`,
			"https://www.wollplatz.de/stylecraft-special-dk": `<html></html>`,
		}}

		_, err := site.Extract(context.Background(), sess, searchPage)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "product pages parsed")
	})

	t.Run("limiter paces every detail load", func(t *testing.T) {
		limiter := &countingLimiter{}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		site := NewWithBaseURL("https://www.wollplatz.de", limiter, logger)
		sess := &stubSession{pages: map[string]string{
			"https://www.wollplatz.de/drops-safran":          safranHTML,
			"https://www.wollplatz.de/stylecraft-special-dk": stylecraftHTML,
		}}

		_, err := site.Extract(context.Background(), sess, searchPage)
		require.NoError(t, err)
		assert.Equal(t, 2, limiter.waits)
	})
}

func TestIsBlocked(t *testing.T) {
	site := newTestSite(t)

	tests := []struct {
		name string
		page *stubPage
		want bool
	}{
		{
			name: "regular shop page",
			page: &stubPage{title: "Wolle kaufen? Größtes Sortiment", content: searchHTML},
			want: false,
		},
		{
			name: "cloudflare interstitial title",
			page: &stubPage{title: "Just a moment...", content: "<html></html>"},
			want: true,
		},
		{
			name: "access denied title",
			page: &stubPage{title: "Access Denied", content: "<html></html>"},
			want: true,
		},
		{
			name: "captcha in body",
			page: &stubPage{title: "Wollplatz", content: `<html><body>please solve this CAPTCHA to continue</body></html>`},
			want: true,
		},
		{
			name: "browser check in body",
			page: &stubPage{title: "Wollplatz", content: `<html><body>Checking your browser before accessing wollplatz.de</body></html>`},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, err := site.IsBlocked(context.Background(), tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, blocked)
		})
	}

	t.Run("title read failure propagates", func(t *testing.T) {
		page := &stubPage{titleErr: fmt.Errorf("target closed")}
		_, err := site.IsBlocked(context.Background(), page)
		require.Error(t, err)
	})
}
