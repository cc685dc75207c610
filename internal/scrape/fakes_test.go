package scrape

import (
	"context"
	"fmt"
	"sync"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// fakePage is a static Page for tests.
type fakePage struct {
	url     string
	title   string
	content string
}

func (p *fakePage) URL() string              { return p.url }
func (p *fakePage) Title() (string, error)   { return p.title, nil }
func (p *fakePage) Content() (string, error) { return p.content, nil }

// fakeSession records its lifecycle and delegates Load.
type fakeSession struct {
	mu     sync.Mutex
	loadFn func(ctx context.Context, url string) (Page, error)
	loads  int
	closed bool
}

func (s *fakeSession) Load(ctx context.Context, url string) (Page, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()

	if s.loadFn != nil {
		return s.loadFn(ctx, url)
	}
	return &fakePage{url: url, title: "Wollplatz"}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeFactory hands out fakeSessions and keeps them for inspection.
type fakeFactory struct {
	mu       sync.Mutex
	loadFn   func(ctx context.Context, url string) (Page, error)
	err      error
	sessions []*fakeSession
}

func (f *fakeFactory) NewSession(ctx context.Context) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := &fakeSession{loadFn: f.loadFn}
	f.sessions = append(f.sessions, sess)
	return sess, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if !s.closed {
			return false
		}
	}
	return true
}

// fakeSite scripts the three site capabilities per test.
type fakeSite struct {
	mu           sync.Mutex
	searchURLFn  func(term string) string
	isBlockedFn  func(ctx context.Context, page Page) (bool, error)
	extractFn    func(ctx context.Context, sess Session, page Page) ([]models.Product, error)
	extractCalls int
}

func (s *fakeSite) SearchURL(term string) string {
	if s.searchURLFn != nil {
		return s.searchURLFn(term)
	}
	return "https://shop.test/search?q=" + term
}

func (s *fakeSite) IsBlocked(ctx context.Context, page Page) (bool, error) {
	if s.isBlockedFn != nil {
		return s.isBlockedFn(ctx, page)
	}
	return false, nil
}

func (s *fakeSite) Extract(ctx context.Context, sess Session, page Page) ([]models.Product, error) {
	s.mu.Lock()
	s.extractCalls++
	s.mu.Unlock()

	if s.extractFn != nil {
		return s.extractFn(ctx, sess, page)
	}
	return []models.Product{testProduct("1", "Test Wool")}, nil
}

func (s *fakeSite) extracted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extractCalls
}

// memStore is an in-memory Upserter keyed on product name.
type memStore struct {
	mu       sync.Mutex
	products map[string]models.Product
	upserts  int
	err      error
	failFor  map[string]error
}

func newMemStore() *memStore {
	return &memStore{products: make(map[string]models.Product)}
}

func (m *memStore) Upsert(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	if m.err != nil {
		return m.err
	}
	if err, ok := m.failFor[p.Name]; ok {
		return err
	}
	m.products[p.Name] = *p
	return nil
}

func (m *memStore) get(name string) (models.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[name]
	return p, ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

// recordingSink captures upsert notifications.
type recordingSink struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *recordingSink) ProductUpserted(ctx context.Context, p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, p.Name)
	return r.err
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func testProduct(id, name string) models.Product {
	return models.Product{
		Meta: models.Meta{
			ID:  id,
			URL: fmt.Sprintf("https://shop.test/product/%s", id),
		},
		Name:         name,
		Price:        models.Price{Amount: "4.50", Currency: "EUR"},
		Composition:  "100% Baumwolle",
		NeedleSize:   "3 mm",
		Availability: "Lieferbar",
	}
}
