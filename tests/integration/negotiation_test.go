package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

func TestCreateOfferSelfTrade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	_, err := svc.CreateOffer(ctx, seller.ID, seller.ID, bicycle.ID, decimal.NewFromInt(20000), "")

	var selfTrade *models.SelfTradeError
	if !errors.As(err, &selfTrade) {
		t.Fatalf("Expected SelfTradeError, got: %v", err)
	}
}

func TestCreateOfferNormalizesContent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	offer, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(20000), "   ")
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}

	if offer.Content == "" {
		t.Error("Offer content should embed the formatted amount when absent")
	}
	if !offer.IsOffer {
		t.Error("Message should be flagged as an offer")
	}
	if offer.OfferStatus == nil || *offer.OfferStatus != models.OfferStatusPending {
		t.Errorf("Expected pending offer, got %v", offer.OfferStatus)
	}
}

func TestDuplicatePendingOffer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	first, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(19000), "")
	if err != nil {
		t.Fatalf("Create first offer: %v", err)
	}

	_, err = svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(21000), "")

	var duplicate *models.DuplicatePendingOfferError
	if !errors.As(err, &duplicate) {
		t.Fatalf("Expected DuplicatePendingOfferError, got: %v", err)
	}
	if duplicate.OfferID != first.ID {
		t.Errorf("Expected conflicting offer id %d, got %d", first.ID, duplicate.OfferID)
	}
	if !duplicate.Amount.Equal(decimal.NewFromInt(19000)) {
		t.Errorf("Expected existing amount 19000 unchanged, got %s", duplicate.Amount)
	}
	if duplicate.Status != models.OfferStatusPending {
		t.Errorf("Expected existing status pending, got %s", duplicate.Status)
	}
}

func TestAcceptOfferCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyerA := createTestUser(t, db, "BuyerA", false)
	buyerB := createTestUser(t, db, "BuyerB", false)
	buyerC := createTestUser(t, db, "BuyerC", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	if _, err := svc.CreateOffer(ctx, buyerA.ID, seller.ID, bicycle.ID, decimal.NewFromInt(20000), ""); err != nil {
		t.Fatalf("Offer A: %v", err)
	}
	if _, err := svc.CreateOffer(ctx, buyerB.ID, seller.ID, bicycle.ID, decimal.NewFromInt(24000), ""); err != nil {
		t.Fatalf("Offer B: %v", err)
	}
	offerC, err := svc.CreateOffer(ctx, buyerC.ID, seller.ID, bicycle.ID, decimal.NewFromInt(25000), "")
	if err != nil {
		t.Fatalf("Offer C: %v", err)
	}

	result, err := svc.AcceptOffer(ctx, offerC.ID, seller.ID)
	if err != nil {
		t.Fatalf("Accept offer: %v", err)
	}

	if *result.Offer.OfferStatus != models.OfferStatusAccepted {
		t.Errorf("Expected accepted, got %s", *result.Offer.OfferStatus)
	}
	if result.RejectedOffers != 2 {
		t.Errorf("Expected 2 cascade-rejected offers, got %d", result.RejectedOffers)
	}

	pending, err := store.CountPendingOffers(ctx, db, bicycle.ID)
	if err != nil {
		t.Fatalf("Count pending offers: %v", err)
	}
	if pending != 0 {
		t.Errorf("Expected no pending offers after accept, got %d", pending)
	}

	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusReserved {
		t.Errorf("Expected bicycle reserved, got %s", got)
	}

	if result.Order == nil {
		t.Fatal("Accept should create an order")
	}
	if result.Order.BuyerID != buyerC.ID {
		t.Errorf("Order buyer should be C (%d), got %d", buyerC.ID, result.Order.BuyerID)
	}
	if result.Order.TotalPrice.LessThan(decimal.NewFromInt(25000)) {
		t.Errorf("Order total %s should be at least the offered 25000", result.Order.TotalPrice)
	}
	if result.Order.Payment == nil {
		t.Fatal("Order should carry its payment record")
	}
	if result.Order.Payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected payment pending, got %s", result.Order.Payment.Status)
	}
	if result.ResponseMessage == nil || result.ResponseMessage.SenderID != seller.ID {
		t.Error("Accept should produce a seller-authored response message")
	}
}

func TestAcceptOfferTwice(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	offer, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(20000), "")
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}

	if _, err := svc.AcceptOffer(ctx, offer.ID, seller.ID); err != nil {
		t.Fatalf("First accept: %v", err)
	}

	_, err = svc.AcceptOffer(ctx, offer.ID, seller.ID)
	if !models.IsStateConflict(err) {
		t.Fatalf("Expected state conflict on re-accept, got: %v", err)
	}

	// Exactly one active order must exist.
	exists, err := store.ActiveOrderExists(ctx, db, bicycle.ID)
	if err != nil {
		t.Fatalf("Check active order: %v", err)
	}
	if !exists {
		t.Error("Expected the single order from the first accept to remain")
	}
}

func TestAcceptOfferForbidden(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	intruder := createTestUser(t, db, "Intruder", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	offer, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(20000), "")
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}

	_, err = svc.AcceptOffer(ctx, offer.ID, intruder.ID)

	var forbidden *models.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("Expected ForbiddenError, got: %v", err)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusAvailable {
		t.Errorf("Bicycle should stay available, got %s", got)
	}
}

func TestRejectOffer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	offer, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(15000), "")
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}

	result, err := svc.RejectOffer(ctx, offer.ID, seller.ID)
	if err != nil {
		t.Fatalf("Reject offer: %v", err)
	}

	if *result.Offer.OfferStatus != models.OfferStatusRejected {
		t.Errorf("Expected rejected, got %s", *result.Offer.OfferStatus)
	}
	if result.ResponseMessage == nil {
		t.Error("Reject should produce a response message")
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusAvailable {
		t.Errorf("Reject must not touch the bicycle; got %s", got)
	}

	// A rejected offer frees the buyer to try again.
	if _, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(18000), ""); err != nil {
		t.Errorf("New offer after rejection should succeed: %v", err)
	}
}

func TestOfferOnUnavailableBicycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	buyer2 := createTestUser(t, db, "Buyer2", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 25000)

	offer, err := svc.CreateOffer(ctx, buyer.ID, seller.ID, bicycle.ID, decimal.NewFromInt(25000), "")
	if err != nil {
		t.Fatalf("Create offer: %v", err)
	}
	if _, err := svc.AcceptOffer(ctx, offer.ID, seller.ID); err != nil {
		t.Fatalf("Accept offer: %v", err)
	}

	_, err = svc.CreateOffer(ctx, buyer2.ID, seller.ID, bicycle.ID, decimal.NewFromInt(30000), "")

	var unavailable *models.BicycleUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected BicycleUnavailableError, got: %v", err)
	}
	if unavailable.Status != models.BicycleStatusReserved {
		t.Errorf("Expected reserved in error payload, got %s", unavailable.Status)
	}
}
