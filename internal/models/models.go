package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Bicycle struct {
	ID          int64           `json:"id"`
	SellerID    int64           `json:"seller_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Status      BicycleStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

// Message is one entry in a negotiation thread. An offer is a message with
// IsOffer set: OfferAmount is then required and positive, and OfferStatus
// tracks its own accept/reject lifecycle.
type Message struct {
	ID          int64            `json:"id"`
	SenderID    int64            `json:"sender_id"`
	RecipientID int64            `json:"recipient_id"`
	BicycleID   int64            `json:"bicycle_id"`
	Content     string           `json:"content"`
	IsOffer     bool             `json:"is_offer"`
	OfferAmount *decimal.Decimal `json:"offer_amount,omitempty"`
	OfferStatus *OfferStatus     `json:"offer_status,omitempty"`
	OrderID     *int64           `json:"order_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type Order struct {
	ID               int64           `json:"id"`
	BuyerID          int64           `json:"buyer_id"`
	BicycleID        int64           `json:"bicycle_id"`
	OrderNumber      string          `json:"order_number"`
	Status           OrderStatus     `json:"status"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	ShippingMethod   ShippingMethod  `json:"shipping_method"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	Tax              decimal.Decimal `json:"tax"`
	ShippingAddress  string          `json:"shipping_address,omitempty"`
	ShippingCounty   string          `json:"shipping_county,omitempty"`
	ShippingDistance float64         `json:"shipping_distance,omitempty"`
	PaymentDeadline  time.Time       `json:"payment_deadline"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
	Payment          *Payment        `json:"payment,omitempty"`
}

// Payment is one-to-one with its order and never outlives it. Proof fields
// hold bank-transfer evidence metadata only; the file itself lives in the
// storage layer.
type Payment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	Status          PaymentStatus   `json:"status"`
	Method          string          `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	Deadline        time.Time       `json:"deadline"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Instructions    string          `json:"instructions,omitempty"`
	ProofMessage    string          `json:"proof_message,omitempty"`
	ProofUploadedAt *time.Time      `json:"proof_uploaded_at,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
}
