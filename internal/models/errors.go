package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain error taxonomy. Every state-conflict and authorization failure is
// detected inside the transaction before any write, so callers can map these
// to user-displayable responses and the transaction aborts with no partial
// effects.

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrBicycleNotFound = errors.New("bicycle not found")
	ErrOfferNotFound   = errors.New("offer not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrBicycleNotFound) ||
		errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// ValidationError marks client-correctable input problems.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ForbiddenError marks an acting user without rights over the target entity.
type ForbiddenError struct {
	Reason string `json:"reason"`
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// stateConflict is the common marker for every "entity not in the required
// state" failure, so transports can map the whole family at once.
type stateConflict interface {
	stateConflict()
}

// IsStateConflict reports whether err belongs to the state-conflict family
// (self trade, unavailable bicycle, duplicate offer, invalid state, failed
// precondition).
func IsStateConflict(err error) bool {
	var sc stateConflict
	return errors.As(err, &sc)
}

// SelfTradeError rejects a buyer making an offer on their own listing.
type SelfTradeError struct {
	BicycleID int64 `json:"bicycle_id"`
}

func (e *SelfTradeError) Error() string {
	return fmt.Sprintf("cannot trade with yourself on bicycle %d", e.BicycleID)
}
func (e *SelfTradeError) stateConflict() {}

// BicycleUnavailableError reports a bicycle that is not open for
// offers/orders, with its current status for display.
type BicycleUnavailableError struct {
	BicycleID int64         `json:"bicycle_id"`
	Status    BicycleStatus `json:"status"`
}

func (e *BicycleUnavailableError) Error() string {
	return fmt.Sprintf("bicycle %d is not available (status %s)", e.BicycleID, e.Status)
}
func (e *BicycleUnavailableError) stateConflict() {}

// DuplicatePendingOfferError carries the existing offer's summary so the
// client can explain why the new offer was refused.
type DuplicatePendingOfferError struct {
	OfferID int64           `json:"offer_id"`
	Amount  decimal.Decimal `json:"amount"`
	Status  OfferStatus     `json:"status"`
}

func (e *DuplicatePendingOfferError) Error() string {
	return fmt.Sprintf("a pending offer of %s already exists (offer %d)", e.Amount, e.OfferID)
}
func (e *DuplicatePendingOfferError) stateConflict() {}

// InvalidStateError reports an entity in a state that does not admit the
// attempted operation.
type InvalidStateError struct {
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Op     string `json:"op"`
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d cannot %s in status %s", e.Entity, e.ID, e.Op, e.Status)
}
func (e *InvalidStateError) stateConflict() {}

// PreconditionFailedError explains which admin-operation precondition did
// not hold (unpaid vs already settled), per the workflow contract.
type PreconditionFailedError struct {
	Reason string `json:"reason"`
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}
func (e *PreconditionFailedError) stateConflict() {}
