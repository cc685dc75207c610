package models

import (
	"strings"
	"time"
)

// Product is one scraped wool product. Name doubles as the storage
// identity: the shop keeps product names stable while ids and URLs
// occasionally change between relaunches.
type Product struct {
	Meta         Meta      `json:"meta"`
	Name         string    `json:"name"`
	Price        Price     `json:"price"`
	Composition  string    `json:"composition"`
	NeedleSize   string    `json:"needle_size"`
	Availability string    `json:"availability"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Meta carries the shop-native identity of a product.
type Meta struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Price keeps the amount as the raw decimal string from the page so
// no float rounding sneaks into stored data.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func NewProduct(id, url string) *Product {
	return &Product{
		Meta:      Meta{ID: id, URL: url},
		ScrapedAt: time.Now(),
	}
}

func (p *Price) IsValid() bool {
	return p.Amount != "" && p.Currency != ""
}

// Validate returns the list of problems that make the record
// unfit for persistence. Empty slice means the record is storable.
func (p *Product) Validate() []string {
	var problems []string

	if strings.TrimSpace(p.Meta.ID) == "" {
		problems = append(problems, "meta.id is required")
	}

	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}

	return problems
}
