package market

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/database"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

// Listing lifecycle: submitted listings wait in `pending` for admin review;
// sellers may pull an unreserved listing back to `draft` and resubmit.
// Reserved and sold bicycles never move through these operations — the
// order workflow owns those states.

func (s *Service) SubmitListing(ctx context.Context, sellerID int64, title, description string, price decimal.Decimal) (*models.Bicycle, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !price.IsPositive() {
		return nil, &models.ValidationError{Field: "price", Reason: "must be greater than zero"}
	}

	bicycle, err := store.CreateBicycle(ctx, s.db, sellerID, title, description, price)
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("listings.submitted")
	return bicycle, nil
}

// ApproveListing is the admin review step that opens a listing for offers.
func (s *Service) ApproveListing(ctx context.Context, actingUser *models.User, bicycleID int64) (*models.Bicycle, error) {
	if !actingUser.IsAdmin {
		return nil, &models.ForbiddenError{Reason: "admin only"}
	}
	return s.listingTransition(ctx, bicycleID, models.BicycleStatusPending, models.BicycleStatusAvailable, 0)
}

// WithdrawListing pulls a listing from the marketplace. Refused while the
// bicycle is reserved or sold.
func (s *Service) WithdrawListing(ctx context.Context, actingUser *models.User, bicycleID int64) (*models.Bicycle, error) {
	return s.listingTransition(ctx, bicycleID, "", models.BicycleStatusDraft, actingUser.ID)
}

// ResubmitListing sends a withdrawn listing back to admin review.
func (s *Service) ResubmitListing(ctx context.Context, actingUser *models.User, bicycleID int64) (*models.Bicycle, error) {
	return s.listingTransition(ctx, bicycleID, models.BicycleStatusDraft, models.BicycleStatusPending, actingUser.ID)
}

// listingTransition moves a bicycle between the listing-management states.
// from == "" means "whatever state the row is in now" (the transition
// table still refuses reserved/sold moves). requiredSeller == 0 skips the
// ownership check (admin operations).
func (s *Service) listingTransition(ctx context.Context, bicycleID int64, from, to models.BicycleStatus, requiredSeller int64) (*models.Bicycle, error) {
	var bicycle *models.Bicycle

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		bicycle, err = store.LockBicycle(ctx, tx, bicycleID)
		if err != nil {
			return err
		}

		if requiredSeller != 0 && bicycle.SellerID != requiredSeller {
			return &models.ForbiddenError{Reason: "only the seller may manage this listing"}
		}

		current := from
		if current == "" {
			current = bicycle.Status
		}

		if err := store.TransitionBicycle(ctx, tx, bicycleID, current, to); err != nil {
			return err
		}

		bicycle.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, bicycleID)
	return bicycle, nil
}

// ListAvailableBicycles pages the public marketplace view.
func (s *Service) ListAvailableBicycles(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListBicycles(ctx, s.db, models.BicycleStatusAvailable, page, pageSize)
}
