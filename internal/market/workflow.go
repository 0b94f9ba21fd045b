package market

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/database"
	"github.com/gharti/bike-market/internal/events"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

const orderNumberAttempts = 5

type CreateOrderParams struct {
	BicycleID        int64                 `json:"bicycle_id"`
	ShippingMethod   models.ShippingMethod `json:"shipping_method"`
	ShippingDistance float64               `json:"shipping_distance"`
	ShippingAddress  string                `json:"shipping_address"`
	ShippingCounty   string                `json:"shipping_county"`
	PaymentMethod    string                `json:"payment_method"`
}

func (p *CreateOrderParams) validate() error {
	if !p.ShippingMethod.Valid() {
		return &models.ValidationError{Field: "shipping_method", Reason: "must be pickup or delivery"}
	}
	if p.ShippingMethod == models.ShippingMethodDelivery {
		if strings.TrimSpace(p.ShippingAddress) == "" {
			return &models.ValidationError{Field: "shipping_address", Reason: "required for delivery"}
		}
		if strings.TrimSpace(p.ShippingCounty) == "" {
			return &models.ValidationError{Field: "shipping_county", Reason: "required for delivery"}
		}
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = models.PaymentMethodBankTransfer
	}
	if p.PaymentMethod != models.PaymentMethodBankTransfer {
		return &models.ValidationError{Field: "payment_method", Reason: "only bank_transfer is supported"}
	}
	return nil
}

// CreateOrder reserves the bicycle for the buyer at its listed price. The
// row lock plus the re-validation of `available` inside the transaction is
// what prevents two buyers from reserving the same bicycle: the loser
// blocks on the lock, re-reads, and fails with BicycleUnavailableError.
func (s *Service) CreateOrder(ctx context.Context, buyerID int64, params CreateOrderParams) (*models.Order, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	var order *models.Order
	now := time.Now().UTC()

	opts := database.TxOptions{IsolationLevel: sql.LevelSerializable, MaxRetries: 3}
	err := database.WithRetry(ctx, s.db, opts, func(tx *sql.Tx) error {
		bicycle, err := store.LockBicycle(ctx, tx, params.BicycleID)
		if err != nil {
			return err
		}

		if bicycle.SellerID == buyerID {
			return &models.SelfTradeError{BicycleID: bicycle.ID}
		}
		if bicycle.Status != models.BicycleStatusAvailable {
			return &models.BicycleUnavailableError{BicycleID: bicycle.ID, Status: bicycle.Status}
		}

		order, err = s.createOrderTx(ctx, tx, buyerID, bicycle, bicycle.Price, params, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("orders.created")
	s.cache.Invalidate(ctx, order.BicycleID)
	s.events.Publish(events.SubjectOrderCreated, order)

	return order, nil
}

// createOrderTx persists the order and its payment and flips the bicycle to
// reserved, all on the caller's transaction. The caller holds the bicycle
// row lock and has verified availability.
func (s *Service) createOrderTx(ctx context.Context, tx *sql.Tx, buyerID int64, bicycle *models.Bicycle, basePrice decimal.Decimal, params CreateOrderParams, now time.Time) (*models.Order, error) {
	quote := ComputeQuote(&s.cfg, basePrice, params.ShippingMethod, params.ShippingCounty)
	deadline := now.Add(s.cfg.PaymentDeadline)

	number, err := s.uniqueOrderNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	order, err := store.InsertOrder(ctx, tx, &models.Order{
		BuyerID:          buyerID,
		BicycleID:        bicycle.ID,
		OrderNumber:      number,
		TotalPrice:       quote.Total,
		ShippingMethod:   params.ShippingMethod,
		ShippingCost:     quote.ShippingCost,
		Tax:              quote.Tax,
		ShippingAddress:  params.ShippingAddress,
		ShippingCounty:   params.ShippingCounty,
		ShippingDistance: params.ShippingDistance,
		PaymentDeadline:  deadline,
		ExpiresAt:        deadline,
	})
	if err != nil {
		return nil, err
	}

	payment, err := store.InsertPayment(ctx, tx, &models.Payment{
		OrderID:      order.ID,
		Method:       params.PaymentMethod,
		Amount:       quote.Total,
		Deadline:     deadline,
		ExpiresAt:    deadline,
		Instructions: s.bankInstructions(order.OrderNumber),
	})
	if err != nil {
		return nil, err
	}
	order.Payment = payment

	if err := store.TransitionBicycle(ctx, tx, bicycle.ID, models.BicycleStatusAvailable, models.BicycleStatusReserved); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Service) uniqueOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		number := store.GenerateOrderNumber(now)
		exists, err := store.OrderNumberExists(ctx, tx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique order number after %d attempts", orderNumberAttempts)
}

func (s *Service) bankInstructions(orderNumber string) string {
	return fmt.Sprintf("Transfer the full amount to %s, account %s (%s). Quote order number %s in the transfer note.",
		s.cfg.BankName, s.cfg.BankAccount, s.cfg.BankAccountHolder, orderNumber)
}

// GetOrder returns the order with its payment. Buyer, seller and admins
// may see it.
func (s *Service) GetOrder(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	if order.BuyerID != actingUser.ID && !actingUser.IsAdmin {
		bicycle, err := store.GetBicycle(ctx, s.db, order.BicycleID)
		if err != nil || bicycle.SellerID != actingUser.ID {
			return nil, &models.ForbiddenError{Reason: "not a participant in this order"}
		}
	}

	return order, nil
}

// ListOrders pages through the acting user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, buyerID int64, cursor string, limit int) (*store.CursorPage, error) {
	return store.ListOrdersCursor(ctx, s.db, buyerID, cursor, limit)
}

// AdminApproveSale settles a sale: requires the payment confirmed paid and
// the bicycle still reserved, then completes the order and marks the
// bicycle sold atomically. Re-invocation fails because the bicycle has
// left reserved.
func (s *Service) AdminApproveSale(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	if !actingUser.IsAdmin {
		return nil, &models.ForbiddenError{Reason: "admin only"}
	}

	var order *models.Order

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		payment, err := store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		bicycle, err := store.LockBicycle(ctx, tx, order.BicycleID)
		if err != nil {
			return err
		}

		if payment.Status != models.PaymentStatusPaid {
			return &models.PreconditionFailedError{
				Reason: fmt.Sprintf("payment has not been confirmed (status %s)", payment.Status),
			}
		}
		if bicycle.Status != models.BicycleStatusReserved {
			return &models.PreconditionFailedError{
				Reason: fmt.Sprintf("bicycle is no longer reserved (status %s); the sale may already be settled", bicycle.Status),
			}
		}

		if err := store.UpdateOrderStatus(ctx, tx, orderID, order.Status, models.OrderStatusCompleted); err != nil {
			return err
		}
		if err := store.TransitionBicycle(ctx, tx, bicycle.ID, models.BicycleStatusReserved, models.BicycleStatusSold); err != nil {
			return err
		}

		order.Status = models.OrderStatusCompleted
		order.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("orders.completed")
	s.cache.Invalidate(ctx, order.BicycleID)
	s.events.Publish(events.SubjectOrderCompleted, order)

	return order, nil
}

// AdminRejectSale reverses a sale after money was claimed to have moved:
// order cancelled, bicycle restored to available, payment refunded — all
// three writes or none.
func (s *Service) AdminRejectSale(ctx context.Context, actingUser *models.User, orderID int64, reason string) (*models.Order, error) {
	if !actingUser.IsAdmin {
		return nil, &models.ForbiddenError{Reason: "admin only"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	var order *models.Order

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		payment, err := store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		bicycle, err := store.LockBicycle(ctx, tx, order.BicycleID)
		if err != nil {
			return err
		}

		if payment.Status != models.PaymentStatusPaid {
			return &models.PreconditionFailedError{
				Reason: fmt.Sprintf("a sale can only be rejected after payment was confirmed (status %s)", payment.Status),
			}
		}

		if err := store.UpdateOrderStatus(ctx, tx, orderID, order.Status, models.OrderStatusCancelled); err != nil {
			return err
		}
		if bicycle.Status == models.BicycleStatusReserved {
			if err := store.TransitionBicycle(ctx, tx, bicycle.ID, models.BicycleStatusReserved, models.BicycleStatusAvailable); err != nil {
				return err
			}
		}
		if err := store.RefundPayment(ctx, tx, payment.ID, models.PaymentStatusPaid, reason); err != nil {
			return err
		}

		order.Status = models.OrderStatusCancelled
		payment.Status = models.PaymentStatusRefunded
		order.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("orders.rejected")
	s.cache.Invalidate(ctx, order.BicycleID)
	s.events.Publish(events.SubjectOrderCancelled, order)

	return order, nil
}

// CancelOrder is the buyer's pre-payment exit: order cancelled, bicycle
// released. Once transfer proof is in review (or confirmed), cancellation
// goes through the admin instead.
func (s *Service) CancelOrder(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.BuyerID != actingUser.ID && !actingUser.IsAdmin {
			return &models.ForbiddenError{Reason: "only the buyer may cancel this order"}
		}

		payment, err := store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return &models.InvalidStateError{Entity: "payment", ID: payment.ID, Status: string(payment.Status), Op: "cancel order"}
		}

		bicycle, err := store.LockBicycle(ctx, tx, order.BicycleID)
		if err != nil {
			return err
		}

		if err := store.UpdateOrderStatus(ctx, tx, orderID, order.Status, models.OrderStatusCancelled); err != nil {
			return err
		}
		if bicycle.Status == models.BicycleStatusReserved {
			if err := store.TransitionBicycle(ctx, tx, bicycle.ID, models.BicycleStatusReserved, models.BicycleStatusAvailable); err != nil {
				return err
			}
		}
		if err := store.FailPayment(ctx, tx, payment.ID, models.PaymentStatusPending, "order cancelled by buyer"); err != nil {
			return err
		}

		order.Status = models.OrderStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("orders.cancelled")
	s.cache.Invalidate(ctx, order.BicycleID)
	s.events.Publish(events.SubjectOrderCancelled, order)

	return order, nil
}

// SubmitPaymentProof records the buyer's bank-transfer evidence and parks
// the payment for admin review. Proof metadata only; the file itself lives
// in the storage layer.
func (s *Service) SubmitPaymentProof(ctx context.Context, actingUser *models.User, orderID int64, message string) (*models.Payment, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &models.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	var payment *models.Payment
	now := time.Now().UTC()

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actingUser.ID {
			return &models.ForbiddenError{Reason: "only the buyer may submit payment proof"}
		}
		// Proof is only reviewable while the order awaits payment. Without
		// this check a cancelled order's failed payment could re-enter
		// awaiting_confirmation through the resubmission transition.
		if order.Status != models.OrderStatusPending {
			return &models.InvalidStateError{Entity: "order", ID: order.ID, Status: string(order.Status), Op: "submit payment proof"}
		}

		payment, err = store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if now.After(payment.Deadline) {
			return &models.InvalidStateError{Entity: "payment", ID: payment.ID, Status: string(payment.Status), Op: "submit proof after deadline"}
		}

		if err := store.RecordPaymentProof(ctx, tx, payment.ID, payment.Status, message, now); err != nil {
			return err
		}

		payment.Status = models.PaymentStatusAwaitingConfirmation
		payment.ProofMessage = message
		payment.ProofUploadedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("payments.proof_submitted")
	return payment, nil
}

// AdminConfirmPayment verifies the bank transfer: payment paid, order
// moves to processing.
func (s *Service) AdminConfirmPayment(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	if !actingUser.IsAdmin {
		return nil, &models.ForbiddenError{Reason: "admin only"}
	}

	var order *models.Order

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		payment, err := store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusAwaitingConfirmation {
			return &models.PreconditionFailedError{
				Reason: fmt.Sprintf("no transfer proof awaiting review (payment status %s)", payment.Status),
			}
		}

		if err := store.TransitionPayment(ctx, tx, payment.ID, models.PaymentStatusAwaitingConfirmation, models.PaymentStatusPaid); err != nil {
			return err
		}
		if err := store.UpdateOrderStatus(ctx, tx, orderID, models.OrderStatusPending, models.OrderStatusProcessing); err != nil {
			return err
		}

		order.Status = models.OrderStatusProcessing
		payment.Status = models.PaymentStatusPaid
		order.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("payments.confirmed")
	s.events.Publish(events.SubjectPaymentConfirmed, order)

	return order, nil
}

// AdminRejectPayment refuses the submitted proof; the buyer may resubmit
// before the deadline.
func (s *Service) AdminRejectPayment(ctx context.Context, actingUser *models.User, orderID int64, reason string) (*models.Payment, error) {
	if !actingUser.IsAdmin {
		return nil, &models.ForbiddenError{Reason: "admin only"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	var payment *models.Payment

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := store.LockOrder(ctx, tx, orderID); err != nil {
			return err
		}

		var err error
		payment, err = store.LockPaymentByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusAwaitingConfirmation {
			return &models.PreconditionFailedError{
				Reason: fmt.Sprintf("no transfer proof awaiting review (payment status %s)", payment.Status),
			}
		}

		if err := store.FailPayment(ctx, tx, payment.ID, models.PaymentStatusAwaitingConfirmation, reason); err != nil {
			return err
		}

		payment.Status = models.PaymentStatusFailed
		payment.FailureReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("payments.proof_rejected")
	return payment, nil
}

// MarkShipped is the seller's post-payment fulfilment step.
func (s *Service) MarkShipped(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	return s.fulfilmentTransition(ctx, actingUser, orderID, models.OrderStatusProcessing, models.OrderStatusShipped, roleSeller)
}

// MarkDelivered is the buyer's confirmation of receipt.
func (s *Service) MarkDelivered(ctx context.Context, actingUser *models.User, orderID int64) (*models.Order, error) {
	return s.fulfilmentTransition(ctx, actingUser, orderID, models.OrderStatusShipped, models.OrderStatusDelivered, roleBuyer)
}

type participantRole int

const (
	roleBuyer participantRole = iota
	roleSeller
)

func (s *Service) fulfilmentTransition(ctx context.Context, actingUser *models.User, orderID int64, from, to models.OrderStatus, role participantRole) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch role {
		case roleBuyer:
			if order.BuyerID != actingUser.ID {
				return &models.ForbiddenError{Reason: "only the buyer may perform this step"}
			}
		case roleSeller:
			bicycle, err := store.LockBicycle(ctx, tx, order.BicycleID)
			if err != nil {
				return err
			}
			if bicycle.SellerID != actingUser.ID {
				return &models.ForbiddenError{Reason: "only the seller may perform this step"}
			}
		}

		if err := store.UpdateOrderStatus(ctx, tx, orderID, from, to); err != nil {
			return err
		}

		order.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}
