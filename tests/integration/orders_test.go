package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/market"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

func pickupParams(bicycleID int64) market.CreateOrderParams {
	return market.CreateOrderParams{
		BicycleID:      bicycleID,
		ShippingMethod: models.ShippingMethodPickup,
	}
}

func deliveryParams(bicycleID int64, address, county string) market.CreateOrderParams {
	return market.CreateOrderParams{
		BicycleID:       bicycleID,
		ShippingMethod:  models.ShippingMethodDelivery,
		ShippingAddress: address,
		ShippingCounty:  county,
	}
}

func TestCreateOrderPricing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, deliveryParams(bicycle.ID, "12 Harbour Rd", "Penghu"))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	// 20000 + (100 base + 150 remote surcharge) = 20250; 5% tax = 1012.50
	// rounded to 1013; total 21263.
	if !order.ShippingCost.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected shipping 250, got %s", order.ShippingCost)
	}
	if !order.Tax.Equal(decimal.NewFromInt(1013)) {
		t.Errorf("Expected tax 1013, got %s", order.Tax)
	}
	if !order.TotalPrice.Equal(decimal.NewFromInt(21263)) {
		t.Errorf("Expected total 21263, got %s", order.TotalPrice)
	}

	if order.Payment == nil {
		t.Fatal("Order should carry its payment")
	}
	if !order.Payment.Amount.Equal(order.TotalPrice) {
		t.Errorf("Payment amount %s should equal order total %s", order.Payment.Amount, order.TotalPrice)
	}
	if order.Payment.Instructions == "" {
		t.Error("Payment should carry bank transfer instructions")
	}
	if order.OrderNumber == "" {
		t.Error("Order should have an order number")
	}

	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusReserved {
		t.Errorf("Expected bicycle reserved, got %s", got)
	}
}

func TestCreateOrderDeliveryRequiresAddress(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	_, err := svc.CreateOrder(ctx, buyer.ID, market.CreateOrderParams{
		BicycleID:      bicycle.ID,
		ShippingMethod: models.ShippingMethodDelivery,
	})

	var validation *models.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Expected ValidationError, got: %v", err)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusAvailable {
		t.Errorf("Failed order must not touch the bicycle; got %s", got)
	}
}

func TestCreateOrderUnavailableBicycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	buyer2 := createTestUser(t, db, "Buyer2", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	if _, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID)); err != nil {
		t.Fatalf("First order: %v", err)
	}

	_, err := svc.CreateOrder(ctx, buyer2.ID, pickupParams(bicycle.ID))

	var unavailable *models.BicycleUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected BicycleUnavailableError, got: %v", err)
	}
}

func TestCreateOrderConcurrent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	const contenders = 5
	buyers := make([]*models.User, contenders)
	for i := range buyers {
		buyers[i] = createTestUser(t, db, "Racer", false)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(ctx, buyers[i].ID, pickupParams(bicycle.ID))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !models.IsStateConflict(err) {
			t.Errorf("Buyer %d: expected state conflict, got: %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("Expected exactly one winner, got %d", winners)
	}

	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusReserved {
		t.Errorf("Expected bicycle reserved, got %s", got)
	}

	exists, err := store.ActiveOrderExists(ctx, db, bicycle.ID)
	if err != nil {
		t.Fatalf("Check active order: %v", err)
	}
	if !exists {
		t.Error("Expected one active order for the bicycle")
	}
}

func TestSettlementFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, recorder := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	admin := createTestUser(t, db, "Admin", true)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	// Approving before any payment confirmation must fail.
	_, err = svc.AdminApproveSale(ctx, admin, order.ID)
	var precondition *models.PreconditionFailedError
	if !errors.As(err, &precondition) {
		t.Fatalf("Expected PreconditionFailedError before payment, got: %v", err)
	}

	payment, err := svc.SubmitPaymentProof(ctx, buyer, order.ID, "Transferred from account ...4821")
	if err != nil {
		t.Fatalf("Submit payment proof: %v", err)
	}
	if payment.Status != models.PaymentStatusAwaitingConfirmation {
		t.Errorf("Expected awaiting_confirmation, got %s", payment.Status)
	}

	confirmed, err := svc.AdminConfirmPayment(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}
	if confirmed.Status != models.OrderStatusProcessing {
		t.Errorf("Expected order processing, got %s", confirmed.Status)
	}
	if confirmed.Payment.Status != models.PaymentStatusPaid {
		t.Errorf("Expected payment paid, got %s", confirmed.Payment.Status)
	}

	settled, err := svc.AdminApproveSale(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("Approve sale: %v", err)
	}
	if settled.Status != models.OrderStatusCompleted {
		t.Errorf("Expected order completed, got %s", settled.Status)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusSold {
		t.Errorf("Expected bicycle sold, got %s", got)
	}

	// Settling twice must fail: the bicycle has left reserved.
	_, err = svc.AdminApproveSale(ctx, admin, order.ID)
	if !errors.As(err, &precondition) {
		t.Fatalf("Expected PreconditionFailedError on re-approval, got: %v", err)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusSold {
		t.Errorf("Re-approval must not move the bicycle; got %s", got)
	}

	if recorder.Counter("orders.completed") != 1 {
		t.Errorf("Expected one completed order recorded, got %d", recorder.Counter("orders.completed"))
	}
}

func TestAdminRejectSale(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	admin := createTestUser(t, db, "Admin", true)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if _, err := svc.SubmitPaymentProof(ctx, buyer, order.ID, "proof"); err != nil {
		t.Fatalf("Submit proof: %v", err)
	}
	if _, err := svc.AdminConfirmPayment(ctx, admin, order.ID); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	rejected, err := svc.AdminRejectSale(ctx, admin, order.ID, "transfer reversed by the bank")
	if err != nil {
		t.Fatalf("Reject sale: %v", err)
	}

	if rejected.Status != models.OrderStatusCancelled {
		t.Errorf("Expected order cancelled, got %s", rejected.Status)
	}
	if rejected.Payment.Status != models.PaymentStatusRefunded {
		t.Errorf("Expected payment refunded, got %s", rejected.Payment.Status)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusAvailable {
		t.Errorf("Expected bicycle back to available, got %s", got)
	}

	payment, err := store.GetPaymentByOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if payment.Status != models.PaymentStatusRefunded {
		t.Errorf("Persisted payment should be refunded, got %s", payment.Status)
	}
}

func TestCancelOrderBeforePayment(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("Cancel order: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusAvailable {
		t.Errorf("Expected bicycle released, got %s", got)
	}

	// The bicycle is open for new orders again.
	buyer2 := createTestUser(t, db, "Buyer2", false)
	if _, err := svc.CreateOrder(ctx, buyer2.ID, pickupParams(bicycle.ID)); err != nil {
		t.Errorf("New order after cancellation should succeed: %v", err)
	}
}

func TestCancelOrderAfterProofForbidden(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if _, err := svc.SubmitPaymentProof(ctx, buyer, order.ID, "proof"); err != nil {
		t.Fatalf("Submit proof: %v", err)
	}

	_, err = svc.CancelOrder(ctx, buyer, order.ID)

	var invalid *models.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidStateError once proof is under review, got: %v", err)
	}
	if got := bicycleStatus(t, db, bicycle.ID); got != models.BicycleStatusReserved {
		t.Errorf("Bicycle should stay reserved, got %s", got)
	}
}

func TestSubmitProofOnCancelledOrderRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if _, err := svc.CancelOrder(ctx, buyer, order.ID); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}

	// The deadline is still in the future, but the order has left pending;
	// its failed payment must not re-enter review.
	_, err = svc.SubmitPaymentProof(ctx, buyer, order.ID, "transfer receipt")

	var invalid *models.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidStateError on cancelled order, got: %v", err)
	}

	payment, err := store.GetPaymentByOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if payment.Status != models.PaymentStatusFailed {
		t.Errorf("Payment should stay failed, got %s", payment.Status)
	}
}

func TestRejectPaymentAllowsResubmission(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	admin := createTestUser(t, db, "Admin", true)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if _, err := svc.SubmitPaymentProof(ctx, buyer, order.ID, "blurry screenshot"); err != nil {
		t.Fatalf("Submit proof: %v", err)
	}

	payment, err := svc.AdminRejectPayment(ctx, admin, order.ID, "amount does not match")
	if err != nil {
		t.Fatalf("Reject payment: %v", err)
	}
	if payment.Status != models.PaymentStatusFailed {
		t.Errorf("Expected failed, got %s", payment.Status)
	}
	if payment.FailureReason == "" {
		t.Error("Rejection should record the reason")
	}

	// Resubmission before the deadline is allowed.
	payment, err = svc.SubmitPaymentProof(ctx, buyer, order.ID, "correct transfer receipt")
	if err != nil {
		t.Fatalf("Resubmit proof: %v", err)
	}
	if payment.Status != models.PaymentStatusAwaitingConfirmation {
		t.Errorf("Expected awaiting_confirmation after resubmission, got %s", payment.Status)
	}

	persisted, err := store.GetPaymentByOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get payment: %v", err)
	}
	if persisted.FailureReason != "" {
		t.Errorf("Resubmission should clear the failure reason, got %q", persisted.FailureReason)
	}
}

func TestFulfilmentFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	admin := createTestUser(t, db, "Admin", true)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, deliveryParams(bicycle.ID, "5 Hill St", "Taipei"))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if _, err := svc.SubmitPaymentProof(ctx, buyer, order.ID, "proof"); err != nil {
		t.Fatalf("Submit proof: %v", err)
	}
	if _, err := svc.AdminConfirmPayment(ctx, admin, order.ID); err != nil {
		t.Fatalf("Confirm payment: %v", err)
	}

	// Only the seller may ship.
	if _, err := svc.MarkShipped(ctx, buyer, order.ID); err == nil {
		t.Error("Buyer should not be able to mark shipped")
	}

	shipped, err := svc.MarkShipped(ctx, seller, order.ID)
	if err != nil {
		t.Fatalf("Mark shipped: %v", err)
	}
	if shipped.Status != models.OrderStatusShipped {
		t.Errorf("Expected shipped, got %s", shipped.Status)
	}

	delivered, err := svc.MarkDelivered(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("Mark delivered: %v", err)
	}
	if delivered.Status != models.OrderStatusDelivered {
		t.Errorf("Expected delivered, got %s", delivered.Status)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newTestService(db)

	seller := createTestUser(t, db, "Seller", false)
	buyer := createTestUser(t, db, "Buyer", false)
	stranger := createTestUser(t, db, "Stranger", false)
	admin := createTestUser(t, db, "Admin", true)
	bicycle := createAvailableBicycle(t, db, svc, seller, 20000)

	order, err := svc.CreateOrder(ctx, buyer.ID, pickupParams(bicycle.ID))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	for _, u := range []*models.User{buyer, seller, admin} {
		if _, err := svc.GetOrder(ctx, u, order.ID); err != nil {
			t.Errorf("%s should see the order: %v", u.Name, err)
		}
	}

	_, err = svc.GetOrder(ctx, stranger, order.ID)
	var forbidden *models.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Errorf("Stranger should be forbidden, got: %v", err)
	}
}
