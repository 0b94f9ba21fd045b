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

// AcceptOfferResult is everything a successful acceptance produced in one
// transaction.
type AcceptOfferResult struct {
	Offer           *models.Message `json:"offer"`
	Order           *models.Order   `json:"order"`
	ResponseMessage *models.Message `json:"response_message"`
	RejectedOffers  int64           `json:"rejected_offers"`
}

// RejectOfferResult pairs the rejected offer with the seller's response.
type RejectOfferResult struct {
	Offer           *models.Message `json:"offer"`
	ResponseMessage *models.Message `json:"response_message"`
}

// CreateOffer records a buyer's price proposal as a pending offer in the
// message thread. The bicycle row lock serializes concurrent offer and
// order creation on the same listing.
func (s *Service) CreateOffer(ctx context.Context, buyerID, recipientID, bicycleID int64, amount decimal.Decimal, content string) (*models.Message, error) {
	if !amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	var offer *models.Message

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		bicycle, err := store.LockBicycle(ctx, tx, bicycleID)
		if err != nil {
			return err
		}

		if bicycle.SellerID == buyerID {
			return &models.SelfTradeError{BicycleID: bicycleID}
		}
		if recipientID != bicycle.SellerID {
			return &models.ValidationError{Field: "recipient_id", Reason: "must be the bicycle's seller"}
		}
		if bicycle.Status != models.BicycleStatusAvailable {
			return &models.BicycleUnavailableError{BicycleID: bicycleID, Status: bicycle.Status}
		}

		existing, err := store.FindPendingOffer(ctx, tx, buyerID, recipientID, bicycleID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &models.DuplicatePendingOfferError{
				OfferID: existing.ID,
				Amount:  *existing.OfferAmount,
				Status:  *existing.OfferStatus,
			}
		}

		status := models.OfferStatusPending
		offer, err = store.CreateMessage(ctx, tx, &models.Message{
			SenderID:    buyerID,
			RecipientID: recipientID,
			BicycleID:   bicycleID,
			Content:     normalizeOfferContent(content, amount),
			IsOffer:     true,
			OfferAmount: &amount,
			OfferStatus: &status,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("offers.created")
	s.events.Publish(events.SubjectOfferCreated, offer)

	return offer, nil
}

// AcceptOffer settles the negotiation in the seller's favor: the offer is
// accepted, every competing pending offer on the bicycle is rejected in a
// single bulk update, an order (priced at the offered amount, self-pickup)
// is created and the bicycle moves to reserved — all in one transaction.
func (s *Service) AcceptOffer(ctx context.Context, offerID, actingUserID int64) (*AcceptOfferResult, error) {
	var result *AcceptOfferResult
	now := time.Now().UTC()

	opts := database.TxOptions{IsolationLevel: sql.LevelSerializable, MaxRetries: 3}
	err := database.WithRetry(ctx, s.db, opts, func(tx *sql.Tx) error {
		offer, err := store.LockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}

		if offer.RecipientID != actingUserID {
			return &models.ForbiddenError{Reason: "only the offer's recipient may accept it"}
		}
		if status := offerStatus(offer); status != models.OfferStatusPending {
			return &models.InvalidStateError{Entity: "offer", ID: offerID, Status: string(status), Op: "accept"}
		}

		bicycle, err := store.LockBicycle(ctx, tx, offer.BicycleID)
		if err != nil {
			return err
		}
		if bicycle.Status != models.BicycleStatusAvailable {
			return &models.BicycleUnavailableError{BicycleID: bicycle.ID, Status: bicycle.Status}
		}

		if err := store.UpdateOfferStatus(ctx, tx, offerID, models.OfferStatusPending, models.OfferStatusAccepted); err != nil {
			return err
		}

		order, err := s.createOrderTx(ctx, tx, offer.SenderID, bicycle, *offer.OfferAmount, CreateOrderParams{
			BicycleID:      bicycle.ID,
			ShippingMethod: models.ShippingMethodPickup,
			PaymentMethod:  models.PaymentMethodBankTransfer,
		}, now)
		if err != nil {
			return err
		}

		if err := store.LinkOfferToOrder(ctx, tx, offerID, order.ID); err != nil {
			return err
		}

		rejected, err := store.RejectOtherPendingOffers(ctx, tx, bicycle.ID, offerID)
		if err != nil {
			return err
		}

		response, err := store.CreateMessage(ctx, tx, &models.Message{
			SenderID:    actingUserID,
			RecipientID: offer.SenderID,
			BicycleID:   bicycle.ID,
			Content: fmt.Sprintf("Your offer of %s has been accepted. Order %s has been created; please complete the bank transfer before %s.",
				offer.OfferAmount.StringFixed(0), order.OrderNumber, order.PaymentDeadline.Format("2006-01-02 15:04")),
			OrderID: &order.ID,
		})
		if err != nil {
			return err
		}

		accepted := *offer
		acceptedStatus := models.OfferStatusAccepted
		accepted.OfferStatus = &acceptedStatus
		accepted.OrderID = &order.ID

		result = &AcceptOfferResult{
			Offer:           &accepted,
			Order:           order,
			ResponseMessage: response,
			RejectedOffers:  rejected,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("offers.accepted")
	s.metrics.Add("offers.cascade_rejected", result.RejectedOffers)
	s.metrics.Inc("orders.created")
	s.cache.Invalidate(ctx, result.Order.BicycleID)
	s.events.Publish(events.SubjectOfferAccepted, result.Offer)
	s.events.Publish(events.SubjectOrderCreated, result.Order)

	return result, nil
}

// RejectOffer declines a pending offer and answers the buyer. No bicycle
// or order side effects.
func (s *Service) RejectOffer(ctx context.Context, offerID, actingUserID int64) (*RejectOfferResult, error) {
	var result *RejectOfferResult

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		offer, err := store.LockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}

		if offer.RecipientID != actingUserID {
			return &models.ForbiddenError{Reason: "only the offer's recipient may reject it"}
		}
		if status := offerStatus(offer); status != models.OfferStatusPending {
			return &models.InvalidStateError{Entity: "offer", ID: offerID, Status: string(status), Op: "reject"}
		}

		bicycle, err := store.LockBicycle(ctx, tx, offer.BicycleID)
		if err != nil {
			return err
		}
		if bicycle.Status != models.BicycleStatusAvailable {
			return &models.BicycleUnavailableError{BicycleID: bicycle.ID, Status: bicycle.Status}
		}

		if err := store.UpdateOfferStatus(ctx, tx, offerID, models.OfferStatusPending, models.OfferStatusRejected); err != nil {
			return err
		}

		response, err := store.CreateMessage(ctx, tx, &models.Message{
			SenderID:    actingUserID,
			RecipientID: offer.SenderID,
			BicycleID:   bicycle.ID,
			Content: fmt.Sprintf("Your offer of %s has been declined by the seller.",
				offer.OfferAmount.StringFixed(0)),
		})
		if err != nil {
			return err
		}

		rejected := *offer
		rejectedStatus := models.OfferStatusRejected
		rejected.OfferStatus = &rejectedStatus

		result = &RejectOfferResult{Offer: &rejected, ResponseMessage: response}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Inc("offers.rejected")
	s.events.Publish(events.SubjectOfferRejected, result.Offer)

	return result, nil
}

// SendMessage posts a plain (non-offer) message into a bicycle's thread.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, bicycleID int64, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &models.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if senderID == recipientID {
		return nil, &models.ValidationError{Field: "recipient_id", Reason: "cannot message yourself"}
	}

	if _, err := store.GetBicycle(ctx, s.db, bicycleID); err != nil {
		return nil, err
	}

	return store.CreateMessage(ctx, s.db, &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		BicycleID:   bicycleID,
		Content:     content,
	})
}

// ListThread returns the conversation the user participates in for a
// bicycle.
func (s *Service) ListThread(ctx context.Context, bicycleID, userID int64) ([]models.Message, error) {
	return store.ListThread(ctx, s.db, bicycleID, userID)
}

// offerStatus tolerates a NULL offer_status; the schema forbids it for
// offers but a deref panic would hide the real problem.
func offerStatus(m *models.Message) models.OfferStatus {
	if m.OfferStatus == nil {
		return ""
	}
	return *m.OfferStatus
}

// normalizeOfferContent makes sure every offer message displays its amount
// even when the buyer sent no text.
func normalizeOfferContent(content string, amount decimal.Decimal) string {
	content = strings.TrimSpace(content)
	if content != "" {
		return content
	}
	return fmt.Sprintf("I would like to offer %s for this bicycle.", amount.StringFixed(0))
}
