package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/woolpilot/wool-pilot/internal/database"
	"github.com/woolpilot/wool-pilot/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductUpserted is published whenever a scraped product
	// is written to the store.
	EventTypeProductUpserted EventType = "PRODUCT_UPSERTED"
)

// ProductUpsertedPayload is the event body consumers read off the
// Redis stream.
type ProductUpsertedPayload struct {
	EventID      string       `json:"event_id"`
	EventType    string       `json:"event_type"`
	Timestamp    time.Time    `json:"timestamp"`
	SiteID       string       `json:"site_id"`
	URL          string       `json:"url"`
	Name         string       `json:"name"`
	Price        models.Price `json:"price"`
	Composition  string       `json:"composition,omitempty"`
	NeedleSize   string       `json:"needle_size,omitempty"`
	Availability string       `json:"availability,omitempty"`
	ScrapedAt    time.Time    `json:"scraped_at"`
	Source       string       `json:"source"`
}

func newProductUpsertedPayload(product *models.Product) *ProductUpsertedPayload {
	return &ProductUpsertedPayload{
		EventID:      uuid.New().String(),
		EventType:    string(EventTypeProductUpserted),
		Timestamp:    time.Now(),
		SiteID:       product.Meta.ID,
		URL:          product.Meta.URL,
		Name:         product.Name,
		Price:        product.Price,
		Composition:  product.Composition,
		NeedleSize:   product.NeedleSize,
		Availability: product.Availability,
		ScrapedAt:    product.ScrapedAt,
		Source:       "scraper",
	}
}

// Publisher hands product events to the transactional outbox. The
// relay ships them to Redis afterwards, so a publish never blocks on
// the broker being up.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

// NewPublisher creates a new event publisher with database connection
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// ProductUpserted publishes a PRODUCT_UPSERTED event for a stored
// product.
func (p *Publisher) ProductUpserted(ctx context.Context, product *models.Product) error {
	payload := newProductUpsertedPayload(product)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "product",
		AggregateID:   product.Meta.ID,
		EventType:     string(EventTypeProductUpserted),
		Payload:       data,
	}

	// Use transaction to ensure atomicity
	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"site_id", product.Meta.ID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
