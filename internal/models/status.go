package models

// Status enums for every entity in the negotiation/settlement state
// machine. Each type is a closed set; transition sites switch exhaustively
// so an unhandled state fails loudly instead of silently passing through.

type BicycleStatus string

const (
	BicycleStatusPending   BicycleStatus = "pending"
	BicycleStatusAvailable BicycleStatus = "available"
	BicycleStatusReserved  BicycleStatus = "reserved"
	BicycleStatusSold      BicycleStatus = "sold"
	BicycleStatusDraft     BicycleStatus = "draft"
)

func (s BicycleStatus) Valid() bool {
	switch s {
	case BicycleStatusPending, BicycleStatusAvailable, BicycleStatusReserved,
		BicycleStatusSold, BicycleStatusDraft:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s BicycleStatus) Terminal() bool {
	return s == BicycleStatusSold
}

// CanTransition is the closed transition table for bicycle availability.
// Reserved/sold moves belong to the order workflow; pending/available/draft
// moves belong to listing management.
func (s BicycleStatus) CanTransition(to BicycleStatus) bool {
	switch s {
	case BicycleStatusPending:
		return to == BicycleStatusAvailable || to == BicycleStatusDraft
	case BicycleStatusAvailable:
		return to == BicycleStatusReserved || to == BicycleStatusDraft
	case BicycleStatusReserved:
		return to == BicycleStatusSold || to == BicycleStatusAvailable
	case BicycleStatusSold:
		return false
	case BicycleStatusDraft:
		return to == BicycleStatusPending
	}
	return false
}

type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusPending, OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired:
		return true
	}
	return false
}

// Terminal offers never change again; only pending offers are actionable.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired:
		return true
	case OfferStatusPending:
		return false
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled,
		OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return false
	}
	return false
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return to == OrderStatusProcessing || to == OrderStatusCancelled
	case OrderStatusProcessing:
		return to == OrderStatusShipped || to == OrderStatusCompleted || to == OrderStatusCancelled
	case OrderStatusShipped:
		return to == OrderStatusDelivered || to == OrderStatusCompleted || to == OrderStatusCancelled
	case OrderStatusDelivered:
		return to == OrderStatusCompleted || to == OrderStatusCancelled
	case OrderStatusCompleted:
		return to == OrderStatusRefunded
	case OrderStatusCancelled, OrderStatusRefunded:
		return false
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentStatusPaid                 PaymentStatus = "paid"
	PaymentStatusFailed               PaymentStatus = "failed"
	PaymentStatusRefunded             PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAwaitingConfirmation,
		PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return to == PaymentStatusAwaitingConfirmation || to == PaymentStatusFailed
	case PaymentStatusAwaitingConfirmation:
		return to == PaymentStatusPaid || to == PaymentStatusFailed
	case PaymentStatusPaid:
		return to == PaymentStatusRefunded
	case PaymentStatusFailed:
		// A rejected transfer proof may be resubmitted before the deadline.
		return to == PaymentStatusAwaitingConfirmation
	case PaymentStatusRefunded:
		return false
	}
	return false
}

// PaymentMethodBankTransfer is the only supported payment method: buyers
// wire the money and upload transfer proof for admin review.
const PaymentMethodBankTransfer = "bank_transfer"

type ShippingMethod string

const (
	ShippingMethodPickup   ShippingMethod = "pickup"
	ShippingMethodDelivery ShippingMethod = "delivery"
)

func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingMethodPickup, ShippingMethodDelivery:
		return true
	}
	return false
}
