// Package market implements the negotiation-to-settlement state machine:
// offer creation and acceptance, order/payment workflow, admin settlement,
// and expiration of unpaid orders. All availability mutations go through
// the bicycle row lock and the guarded status transitions in the store.
package market

import (
	"context"
	"database/sql"

	"github.com/gharti/bike-market/internal/cache"
	"github.com/gharti/bike-market/internal/config"
	"github.com/gharti/bike-market/internal/events"
	"github.com/gharti/bike-market/internal/metrics"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

type Service struct {
	db      *sql.DB
	cfg     config.MarketConfig
	events  events.Publisher
	cache   *cache.BicycleCache
	metrics metrics.Recorder
}

// NewService wires the market services. publisher and recorder may be nil;
// bicycleCache may be nil to disable caching.
func NewService(db *sql.DB, cfg config.MarketConfig, publisher events.Publisher, bicycleCache *cache.BicycleCache, recorder metrics.Recorder) *Service {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if recorder == nil {
		recorder = metrics.NewNopRecorder()
	}
	return &Service{
		db:      db,
		cfg:     cfg,
		events:  publisher,
		cache:   bicycleCache,
		metrics: recorder,
	}
}

// GetBicycle serves a listing snapshot, read-through the cache when one is
// configured.
func (s *Service) GetBicycle(ctx context.Context, id int64) (*models.Bicycle, error) {
	if b, ok := s.cache.Get(ctx, id); ok {
		return b, nil
	}

	b, err := store.GetBicycle(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, b)
	return b, nil
}
