package wollplatz

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// Spec table keys as they appear on wollplatz.de product pages.
const (
	specKeyNeedleSize  = "Nadelstärke"
	specKeyComposition = "Zusammenstellung"
)

// ParseSearchResults extracts product identities from a search page.
// Relative product links are resolved against baseURL. A missing result
// container is an error (the page did not render the search results);
// a present container with no items yields an empty slice.
func ParseSearchResults(html, baseURL string) ([]models.Meta, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	container := doc.Find("div.sooqrSearchContainer")
	if container.Length() == 0 {
		return nil, fmt.Errorf("search results container not found")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	var metas []models.Meta
	container.Find("div.sqr-resultItem").Each(func(_ int, item *goquery.Selection) {
		id, ok := item.Attr("data-id")
		if !ok || strings.TrimSpace(id) == "" {
			return
		}

		link := item.Find("h3.productlist-title a").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		if href == "" {
			return
		}

		metas = append(metas, models.Meta{
			ID:  strings.TrimSpace(id),
			URL: resolveURL(base, href),
		})
	})

	return metas, nil
}

// ParseProductPage extracts the full record from a product detail page.
// Name and price are mandatory; needle size, composition and
// availability are taken when present.
func ParseProductPage(html string, meta models.Meta) (*models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	name := strings.TrimSpace(doc.Find("h1#pageheadertitle").First().Text())
	amount, _ := doc.Find("span.product-price").First().Attr("content")

	price := models.Price{
		Amount: strings.TrimSpace(amount),
		// TODO: read the currency from the page instead of assuming EUR.
		Currency: "EUR",
	}
	if name == "" || !price.IsValid() {
		return nil, fmt.Errorf("product name or price not found")
	}

	specs := parseSpecsTable(doc)

	product := models.NewProduct(meta.ID, meta.URL)
	product.Name = name
	product.Price = price
	product.NeedleSize = specs[specKeyNeedleSize]
	product.Composition = specs[specKeyComposition]
	product.Availability = strings.TrimSpace(doc.Find("div#ContentPlaceHolder1_upStockInfoDescription").First().Text())

	return product, nil
}

// parseSpecsTable flattens the two-column detail table into a map.
func parseSpecsTable(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)

	doc.Find("div#pdetailTableSpecs tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() != 2 {
			return
		}

		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key != "" && value != "" {
			specs[key] = value
		}
	})

	return specs
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
