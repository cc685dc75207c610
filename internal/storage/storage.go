package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// ErrNotFound is returned by lookups that match no product.
var ErrNotFound = errors.New("product not found")

// Store persists scraped products keyed on their name. Writing the
// same name again replaces the stored record.
type Store interface {
	Upsert(ctx context.Context, product *models.Product) error
	FindAll(ctx context.Context) ([]models.Product, error)
	FindByID(ctx context.Context, id string) (*models.Product, error)
	FindByName(ctx context.Context, name string) (*models.Product, error)
}

// FileStore is a Store backed by a single JSON file. It is the
// fallback when no database is configured and keeps local runs
// inspectable with nothing but a text editor.
type FileStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		products: make(map[string]*models.Product),
		filename: filename,
	}

	// Load existing data if file exists
	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	return fs, nil
}

func (fs *FileStore) Upsert(_ context.Context, product *models.Product) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("product name is required")
	}

	stored := *product
	if stored.ScrapedAt.IsZero() {
		stored.ScrapedAt = time.Now()
	}
	fs.products[stored.Name] = &stored

	return fs.save()
}

func (fs *FileStore) FindAll(_ context.Context) ([]models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	all := make([]models.Product, 0, len(fs.products))
	for _, product := range fs.products {
		all = append(all, *product)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return all, nil
}

func (fs *FileStore) FindByID(_ context.Context, id string) (*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, product := range fs.products {
		if product.Meta.ID == id {
			found := *product
			return &found, nil
		}
	}

	return nil, ErrNotFound
}

func (fs *FileStore) FindByName(_ context.Context, name string) (*models.Product, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if product, ok := fs.products[name]; ok {
		found := *product
		return &found, nil
	}
	for _, product := range fs.products {
		if strings.EqualFold(product.Name, name) {
			found := *product
			return &found, nil
		}
	}

	return nil, ErrNotFound
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.products, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	// Rename to actual file
	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &fs.products)
}
