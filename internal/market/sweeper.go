package market

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/gharti/bike-market/internal/database"
	"github.com/gharti/bike-market/internal/events"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

const sweepBatchSize = 100

// CancelExpiredOrders cancels every unpaid order whose payment deadline
// has passed and releases the underlying bicycle. Each order gets its own
// transaction; a candidate that another worker already handled (or locked)
// is skipped, which makes the sweep idempotent and safe to run
// concurrently with itself and with live requests.
func (s *Service) CancelExpiredOrders(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	defer func(start time.Time) {
		s.metrics.Observe("sweeper.duration", time.Since(start))
	}(time.Now())

	ids, err := store.SelectExpiredOrderIDs(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		cancelled, err := s.expireOrder(ctx, id, now)
		if err != nil {
			log.Printf("sweeper: expire order %d: %v", id, err)
			continue
		}
		if cancelled != nil {
			processed++
			s.cache.Invalidate(ctx, cancelled.BicycleID)
			s.events.Publish(events.SubjectOrderExpired, cancelled)
		}
	}

	s.metrics.Add("sweeper.cancelled", int64(processed))
	return processed, nil
}

// expireOrder handles one candidate. Returns (nil, nil) when the order no
// longer qualifies — someone else cancelled it, payment progressed, or a
// concurrent sweep holds its lock.
func (s *Service) expireOrder(ctx context.Context, orderID int64, now time.Time) (*models.Order, error) {
	var order *models.Order

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockExpiredOrder(ctx, tx, orderID, now)
		if err != nil {
			return err
		}

		payment, err := store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			// Proof arrived between the snapshot and the lock; not ours.
			return models.ErrOrderNotFound
		}

		// Never queue behind a live request on the bicycle; the next sweep
		// will pick the order up again.
		bicycle, err := store.LockBicycleNoWait(ctx, tx, order.BicycleID)
		if err != nil {
			if errors.Is(err, database.ErrLockTimeout) {
				return models.ErrOrderNotFound
			}
			return err
		}

		if err := store.UpdateOrderStatus(ctx, tx, orderID, models.OrderStatusPending, models.OrderStatusCancelled); err != nil {
			return err
		}
		if bicycle.Status == models.BicycleStatusReserved {
			if err := store.TransitionBicycle(ctx, tx, bicycle.ID, models.BicycleStatusReserved, models.BicycleStatusAvailable); err != nil {
				return err
			}
		}
		if err := store.FailPayment(ctx, tx, payment.ID, models.PaymentStatusPending, "payment deadline expired"); err != nil {
			return err
		}

		order.Status = models.OrderStatusCancelled
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return order, nil
}

// RunSweeper drives CancelExpiredOrders on a fixed interval until the
// context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("sweeper: running every %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopped")
			return
		case <-ticker.C:
			count, err := s.CancelExpiredOrders(ctx)
			if err != nil {
				log.Printf("sweeper: sweep failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("sweeper: cancelled %d expired order(s)", count)
			}
		}
	}
}
